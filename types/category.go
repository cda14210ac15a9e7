package types

import (
	"strconv"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
)

// Category is the logical configuration grouping exposed to consumers,
// independent of where the documents are stored.
type Category int

const (
	LogicStatement Category = iota
	EnvironmentalSensor
)

var categoryNames = map[Category]string{
	LogicStatement:      "LogicStatement",
	EnvironmentalSensor: "EnvironmentalSensor",
}

// Categories lists every known category in ordinal order.
func Categories() []Category {
	return []Category{LogicStatement, EnvironmentalSensor}
}

func (c Category) String() string {
	if n, ok := categoryNames[c]; ok {
		return n
	}
	return "Category(" + strconv.Itoa(int(c)) + ")"
}

// ParseCategory accepts a category name.
func ParseCategory(s string) (Category, error) {
	for c, n := range categoryNames {
		if n == s {
			return c, nil
		}
	}
	return 0, errors.Errorf("unknown configuration category %q", s)
}

func (c Category) MarshalJSON() ([]byte, error) {
	n, ok := categoryNames[c]
	if !ok {
		return nil, errors.Errorf("unknown configuration category %d", int(c))
	}
	return json.Marshal(n)
}

// UnmarshalJSON accepts either the name or the ordinal; older producers
// serialized the enum as a number.
func (c *Category) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err == nil {
		v, err := ParseCategory(name)
		if err != nil {
			return err
		}
		*c = v
		return nil
	}
	var n int
	if err := json.Unmarshal(b, &n); err != nil {
		return errors.Errorf("configuration category must be a name or ordinal: %s", b)
	}
	if _, ok := categoryNames[Category(n)]; !ok {
		return errors.Errorf("unknown configuration category %d", n)
	}
	*c = Category(n)
	return nil
}
