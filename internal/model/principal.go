package model

type EntityType string

const (
	EntityUser    EntityType = "user"
	EntityStudent EntityType = "estudiante"
)

func (t EntityType) Valid() bool {
	return t == EntityUser || t == EntityStudent
}

// Principal is the authenticated entity behind a request: either a staff
// user or a student. The interface is sealed; switch over StaffPrincipal and
// StudentPrincipal.
type Principal interface {
	EntityID() string
	EntityType() EntityType
	Payload() EntityPayload
	sealed()
}

type StaffPrincipal struct {
	User User
}

func (p StaffPrincipal) EntityID() string       { return p.User.ID }
func (p StaffPrincipal) EntityType() EntityType { return EntityUser }
func (StaffPrincipal) sealed()                  {}

func (p StaffPrincipal) Payload() EntityPayload {
	return EntityPayload{
		ID:    p.User.ID,
		Name:  p.User.Name,
		Email: p.User.Email,
		Type:  EntityUser,
		Role:  p.User.Role,
	}
}

type StudentPrincipal struct {
	Student Student
}

func (p StudentPrincipal) EntityID() string       { return p.Student.ID }
func (p StudentPrincipal) EntityType() EntityType { return EntityStudent }
func (StudentPrincipal) sealed()                  {}

func (p StudentPrincipal) Payload() EntityPayload {
	return EntityPayload{
		ID:    p.Student.ID,
		Name:  p.Student.Name,
		Email: p.Student.Email,
		Type:  EntityStudent,
	}
}

// OwnerOf returns the refresh-token owner reference for a principal.
func OwnerOf(p Principal) TokenOwner {
	return TokenOwner{Type: p.EntityType(), ID: p.EntityID()}
}
