package actuator

// Role is the ownership state of an actuator's drive channels.
type Role int

const (
	// RoleFree accepts direct commands.
	RoleFree Role = iota
	// RoleSynced follows an extruder motion queue.
	RoleSynced
	// RoleBorrowed has its drive channel lent to another actuator's
	// linked session.
	RoleBorrowed
)

func (r Role) String() string {
	switch r {
	case RoleFree:
		return "free"
	case RoleSynced:
		return "synced"
	case RoleBorrowed:
		return "borrowed"
	default:
		return "unknown"
	}
}

// Capabilities lists the direct commands a role accepts.
type Capabilities struct {
	CanEnable      bool
	CanSetPosition bool
	CanMove        bool
	CanHome        bool
}

var roleCapabilities = map[Role]Capabilities{
	RoleFree:     {CanEnable: true, CanSetPosition: true, CanMove: true, CanHome: true},
	RoleSynced:   {},
	RoleBorrowed: {},
}

// Capabilities returns the command table for r.
func (r Role) Capabilities() Capabilities {
	return roleCapabilities[r]
}

type capability int

const (
	capEnable capability = iota
	capSetPosition
	capMove
	capHome
)

func (c Capabilities) allows(op capability) bool {
	switch op {
	case capEnable:
		return c.CanEnable
	case capSetPosition:
		return c.CanSetPosition
	case capMove:
		return c.CanMove
	case capHome:
		return c.CanHome
	}
	return false
}
