package recipient

import (
	"context"
	"fmt"
	"sync"
)

// StaticDirectory serves the matrix and roster loaded from the config
// file. Replace swaps the whole snapshot on config reload; readers are
// never blocked mid-resolve.
type StaticDirectory struct {
	mu     sync.RWMutex
	rules  []MatrixRule
	byRole map[Role][]Recipient
	byID   map[string]Recipient
}

func NewStaticDirectory(rules []MatrixRule, people []Recipient) *StaticDirectory {
	d := &StaticDirectory{}
	d.Replace(rules, people)
	return d
}

func (d *StaticDirectory) Replace(rules []MatrixRule, people []Recipient) {
	byRole := map[Role][]Recipient{}
	byID := make(map[string]Recipient, len(people))
	for _, p := range people {
		byID[p.ID] = p
		for _, role := range p.Roles {
			byRole[role] = append(byRole[role], p)
		}
	}
	d.mu.Lock()
	d.rules = rules
	d.byRole = byRole
	d.byID = byID
	d.mu.Unlock()
}

// MatrixRules ignores the tenant: a config-file deployment serves one
// tenant, and the rules apply to it wholesale.
func (d *StaticDirectory) MatrixRules(_ context.Context, _ string) ([]MatrixRule, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]MatrixRule(nil), d.rules...), nil
}

func (d *StaticDirectory) PeopleByRole(_ context.Context, _ string, role Role) ([]Recipient, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Recipient(nil), d.byRole[role]...), nil
}

func (d *StaticDirectory) PersonByID(_ context.Context, _ string, id string) (Recipient, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rec, ok := d.byID[id]
	if !ok {
		return Recipient{}, fmt.Errorf("recipient %q not in directory", id)
	}
	return rec, nil
}
