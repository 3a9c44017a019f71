package activity

// AccountSet is a deduplicated set of token account addresses that remembers
// insertion order, so repeated scans of the same ledger iterate identically.
type AccountSet struct {
	order []string
	index map[string]struct{}
}

// NewAccountSet returns a set containing addresses, ignoring empty strings.
func NewAccountSet(addresses ...string) *AccountSet {
	s := &AccountSet{index: make(map[string]struct{})}
	for _, a := range addresses {
		s.Add(a)
	}
	return s
}

// Add inserts address and reports whether it was new.
func (s *AccountSet) Add(address string) bool {
	if address == "" {
		return false
	}
	if s.index == nil {
		s.index = make(map[string]struct{})
	}
	if _, ok := s.index[address]; ok {
		return false
	}
	s.index[address] = struct{}{}
	s.order = append(s.order, address)
	return true
}

// Contains reports whether address is in the set.
func (s *AccountSet) Contains(address string) bool {
	if s == nil {
		return false
	}
	_, ok := s.index[address]
	return ok
}

// Len returns the number of addresses in the set.
func (s *AccountSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.order)
}

// Values returns the addresses in insertion order. The returned slice is a copy.
func (s *AccountSet) Values() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.order...)
}
