package rules

// Command is a rule-sync message: add or replace (Delete false) or remove the
// rules in Content from Group's table. Group is ignored by single-tenant engines.
type Command struct {
	Group   string `json:"group,omitempty"`
	Content string `json:"content"`
	Delete  bool   `json:"delete"`
}

func (c Command) operation() string {
	if c.Delete {
		return "delete"
	}
	return "upsert"
}
