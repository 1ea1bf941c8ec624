/*
policy.go - Single authorization policy for every engine operation

PURPOSE:
  One function decides whether a subject may perform an operation, keyed by
  (operation, role, ownership relation). Engine methods compute the relation
  from stored data and consult Authorize before any write; they never trust
  the presentation layer to have hidden a button.

RULES:
  SUPER     everything except acting as a seller
  ADMIN     create shows and validate anywhere; everything else only on
            shows they direct
  VENDEDOR  sell, release and transfer their own tickets; read their own
            reports and feeds
*/
package engine

// Operation names an authorizable engine action.
type Operation string

const (
	OpCreateShow         Operation = "create show"
	OpManageShow         Operation = "manage show"
	OpAssign             Operation = "assign"
	OpSell               Operation = "sell"
	OpReleaseReservation Operation = "release reservation"
	OpMarkPaid           Operation = "mark paid"
	OpTransfer           Operation = "transfer"
	OpValidate           Operation = "validate"
	OpReleaseAgent       Operation = "release agent"
	OpViewShow           Operation = "view show"
	OpViewAgent          Operation = "view agent"
	OpManageUsers        Operation = "manage users"
)

// Relation describes how the subject relates to the target of an operation.
type Relation struct {
	DirectsShow bool // subject is the show's director
	OwnsTicket  bool // subject holds the ticket as agent
	IsSelf      bool // target user is the subject
}

// Authorize returns nil when subj may perform op under rel.
func Authorize(op Operation, subj Subject, rel Relation) error {
	if subj.ID == "" || !subj.Role.Valid() {
		return forbidden(op, subj.Role, ErrForbidden)
	}

	switch subj.Role {
	case RoleSuper:
		if op == OpSell {
			return forbidden(op, subj.Role, ErrForbidden)
		}
		return nil

	case RoleDirector:
		switch op {
		case OpCreateShow, OpValidate, OpManageUsers:
			return nil
		case OpViewAgent:
			return nil
		case OpSell:
			return forbidden(op, subj.Role, ErrForbidden)
		}
		if rel.DirectsShow {
			return nil
		}
		return forbidden(op, subj.Role, ErrForbidden)

	case RoleAgent:
		switch op {
		case OpSell, OpReleaseReservation, OpTransfer:
			if rel.OwnsTicket {
				return nil
			}
			return forbidden(op, subj.Role, ErrNotOwned)
		case OpViewAgent:
			if rel.IsSelf {
				return nil
			}
		case OpViewShow:
			if rel.OwnsTicket {
				return nil
			}
		}
		return forbidden(op, subj.Role, ErrForbidden)
	}
	return forbidden(op, subj.Role, ErrForbidden)
}

func forbidden(op Operation, role Role, err error) error {
	return &ForbiddenError{Op: op, Role: role, err: err}
}
