package challenge

// Standing is a participant's position used to decide a winner
type Standing struct {
	UserID    string
	Forfeited bool
	Percent   int
}

// ResolveWinner picks the winner among standings. A nil result is a tie or no winner.
// Forfeited participants never win; a sole remaining participant wins outright;
// otherwise the strictly higher percent wins.
func ResolveWinner(standings []Standing) *string {
	var active []Standing
	for _, s := range standings {
		if !s.Forfeited {
			active = append(active, s)
		}
	}

	switch len(active) {
	case 0:
		return nil
	case 1:
		id := active[0].UserID
		return &id
	}

	return ComparePercents(active[0], active[1])
}

// ComparePercents returns the user with the strictly higher percent, nil when equal
func ComparePercents(a, b Standing) *string {
	switch {
	case a.Percent > b.Percent:
		id := a.UserID
		return &id
	case b.Percent > a.Percent:
		id := b.UserID
		return &id
	}
	return nil
}
