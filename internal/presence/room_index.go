package presence

// roomIndex is the secondary index for one room. It is only touched while
// the owning Registry holds its write lock.
type roomIndex struct {
	// order holds connection ids in join order.
	order []string
	// names maps a (possibly case-folded) display name to its connection id.
	names map[string]string
}

func newRoomIndex() *roomIndex {
	return &roomIndex{names: make(map[string]string)}
}

func (i *roomIndex) holds(nameKey string) bool {
	_, ok := i.names[nameKey]
	return ok
}

func (i *roomIndex) add(connID, nameKey string) {
	i.order = append(i.order, connID)
	i.names[nameKey] = connID
}

func (i *roomIndex) remove(connID, nameKey string) {
	if i.names[nameKey] == connID {
		delete(i.names, nameKey)
	}
	for n, id := range i.order {
		if id == connID {
			i.order = append(i.order[:n], i.order[n+1:]...)
			return
		}
	}
}

func (i *roomIndex) empty() bool {
	return len(i.order) == 0
}
