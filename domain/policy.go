package domain

// Operation enumerates the task operations gated by the authorization policy.
type Operation string

const (
	OpRead         Operation = "read"
	OpUpdate       Operation = "update"
	OpChangeStatus Operation = "status-change"
	OpReassign     Operation = "reassign"
	OpDelete       Operation = "delete"
)

// CanAccess decides whether the actor may perform the operation on the task.
// Admins are unrestricted; every other actor must appear in the task's
// assignee set. The rule is deliberately defined once here rather than
// per endpoint.
func CanAccess(actor Actor, t *Task, op Operation) bool {
	switch op {
	case OpRead, OpUpdate, OpChangeStatus, OpReassign, OpDelete:
		return actor.IsAdmin() || t.IsAssignee(actor.ID)
	}
	return false
}

// CheckAssignees enforces the self-assignment rule: a non-admin may only
// submit an assignee set equal to exactly {actor.ID}.
func CheckAssignees(actor Actor, assignees []string) error {
	if actor.IsAdmin() {
		return nil
	}
	for _, id := range assignees {
		if id != actor.ID {
			return &ForbiddenError{Reason: "you can only assign tasks to yourself"}
		}
	}
	return nil
}

// Scope is the store-level visibility predicate applied to list and
// aggregate reads. The zero value means unrestricted.
type Scope struct {
	AssigneeID string
}

// VisibilityScope derives the scope for the actor: admins see every
// non-deleted task, everyone else only tasks assigned to them.
func VisibilityScope(actor Actor) Scope {
	if actor.IsAdmin() {
		return Scope{}
	}
	return Scope{AssigneeID: actor.ID}
}

// Matches reports whether the task falls inside the scope. Deleted tasks
// never match.
func (s Scope) Matches(t *Task) bool {
	if t.IsDeleted {
		return false
	}
	if s.AssigneeID == "" {
		return true
	}
	return t.IsAssignee(s.AssigneeID)
}
