// Package signs holds the static knowledge about the traffic signs that our model
// can recognize: the mapping from network class index to sign code, and the
// human readable name and meaning of each sign code.
package signs

import (
	"fmt"
	"sort"
	"strconv"
)

// Shown to the user when we have no description for a sign
const PlaceholderMeaning = "Nhấn để xem chi tiết."

// Info is the display metadata of a single sign code
type Info struct {
	Code    string `json:"code"`
	Name    string `json:"name"`
	Meaning string `json:"meaning"`
}

// Catalog is built once at startup, and is read-only afterwards,
// so it is safe to share between goroutines without locking.
type Catalog struct {
	classes map[int]string  // class index -> code
	info    map[string]Info // code -> info
}

// NewCatalog takes ownership of the two maps
func NewCatalog(classes map[int]string, info map[string]Info) *Catalog {
	if classes == nil {
		classes = map[int]string{}
	}
	if info == nil {
		info = map[string]Info{}
	}
	return &Catalog{
		classes: classes,
		info:    info,
	}
}

// Code returns the sign code of a network class.
// Unknown classes get a synthesized code such as "class_999", so the result is never empty.
func (c *Catalog) Code(classID int) string {
	if code, ok := c.classes[classID]; ok && code != "" {
		return code
	}
	return "class_" + strconv.Itoa(classID)
}

// Lookup returns the display name and meaning of a sign code.
// If the code is not in our sign info table, then name is the code itself, and meaning is a placeholder.
func (c *Catalog) Lookup(code string) Info {
	if inf, ok := c.info[code]; ok {
		return inf
	}
	return Info{
		Code:    code,
		Name:    code,
		Meaning: PlaceholderMeaning,
	}
}

func (c *Catalog) NumClasses() int {
	return len(c.classes)
}

func (c *Catalog) NumSigns() int {
	return len(c.info)
}

// Entries returns all described signs, sorted by code
func (c *Catalog) Entries() []Info {
	all := make([]Info, 0, len(c.info))
	for _, inf := range c.info {
		all = append(all, inf)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].Code < all[j].Code
	})
	return all
}

func (c *Catalog) String() string {
	return fmt.Sprintf("%v classes, %v sign descriptions", c.NumClasses(), c.NumSigns())
}
