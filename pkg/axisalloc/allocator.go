// Package axisalloc hands out free g-code coordinate letters for extra
// toolhead axes.
package axisalloc

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	hosterrors "purgebelt-go/pkg/errors"
)

// DefaultReserved are the letters the g-code layer already uses.
const DefaultReserved = "XYZEFN"

// Allocator tracks which letters A-Z are in use. Letters are handed out in
// alphabetical order, skipping the reserved set.
type Allocator struct {
	mu       sync.Mutex
	reserved map[byte]bool
	owners   map[byte]string
}

// New creates an allocator excluding the given letters.
func New(reserved string) *Allocator {
	a := &Allocator{
		reserved: make(map[byte]bool),
		owners:   make(map[byte]string),
	}
	for _, r := range strings.ToUpper(reserved) {
		if r >= 'A' && r <= 'Z' {
			a.reserved[byte(r)] = true
		}
	}
	return a
}

// Valid reports whether letter can ever be allocated.
func (a *Allocator) Valid(letter string) bool {
	if len(letter) != 1 {
		return false
	}
	c := letter[0]
	return c >= 'A' && c <= 'Z' && !a.reserved[c]
}

// Allocate returns the first free letter and records owner as its holder.
func (a *Allocator) Allocate(owner string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for c := byte('A'); c <= 'Z'; c++ {
		if a.reserved[c] {
			continue
		}
		if _, used := a.owners[c]; !used {
			a.owners[c] = owner
			return string(c), nil
		}
	}
	return "", hosterrors.NoFreeResourceError("gcode axis letter")
}

// Reserve claims a specific letter for owner.
func (a *Allocator) Reserve(letter, owner string) error {
	letter = strings.ToUpper(letter)
	if !a.Valid(letter) {
		return hosterrors.New(hosterrors.ErrGCodeInvalidParam,
			fmt.Sprintf("'%s' is not a valid GCODE_AXIS", letter))
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if cur, used := a.owners[letter[0]]; used {
		if cur == owner {
			return nil
		}
		return hosterrors.New(hosterrors.ErrNoFreeResource,
			fmt.Sprintf("axis '%s' already registered by %s", letter, cur))
	}
	a.owners[letter[0]] = owner
	return nil
}

// Free releases letter. Freeing a letter that is not held is a no-op.
func (a *Allocator) Free(letter string) {
	if len(letter) != 1 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.owners, strings.ToUpper(letter)[0])
}

// Owner returns the holder of letter.
func (a *Allocator) Owner(letter string) (string, bool) {
	if len(letter) != 1 {
		return "", false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	owner, ok := a.owners[strings.ToUpper(letter)[0]]
	return owner, ok
}

// InUse returns the allocated letters in alphabetical order.
func (a *Allocator) InUse() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	letters := make([]string, 0, len(a.owners))
	for c := range a.owners {
		letters = append(letters, string(c))
	}
	sort.Strings(letters)
	return letters
}

// Available returns how many letters are still free.
func (a *Allocator) Available() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return 26 - len(a.reserved) - len(a.owners)
}
