package model

// ResourceID implementations let the optimistic mutation layer address
// items generically.

func (a Announcement) ResourceID() string { return a.ID }

func (i CafeItem) ResourceID() string { return i.ID }

func (e ClubEvent) ResourceID() string { return e.ID }
