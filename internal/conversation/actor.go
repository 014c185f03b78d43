package conversation

// Actor is a known user of the bot.
type Actor struct {
	ID       int64
	Name     string
	Username string
	IsAdmin  bool
}

// Handle returns "@username", or the name when the user has none.
func (a *Actor) Handle() string {
	if a == nil {
		return ""
	}
	if a.Username != "" {
		return "@" + a.Username
	}
	return a.Name
}
