package identity

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Snowflake is a Discord 64-bit id. Discord serializes snowflakes as decimal
// strings in JSON because they overflow JavaScript's safe-integer range; we
// keep them as int64 and convert at the JSON boundary.
type Snowflake int64

// ParseSnowflake parses the decimal string form of a snowflake.
func ParseSnowflake(s string) (Snowflake, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("identity: parsing snowflake %q: %w", s, err)
	}
	return Snowflake(n), nil
}

func (s Snowflake) String() string {
	return strconv.FormatInt(int64(s), 10)
}

func (s Snowflake) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Snowflake) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		// Accept a bare number too; some clients send snowflakes unquoted.
		var n int64
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("identity: snowflake must be a string or number: %s", data)
		}
		*s = Snowflake(n)
		return nil
	}
	parsed, err := ParseSnowflake(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
