package patient

import (
	"time"

	"github.com/google/uuid"
)

// Patient maps to the patient table.
type Patient struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	GivenName  string     `db:"given_name" json:"given_name"`
	FamilyName string     `db:"family_name" json:"family_name"`
	BirthDate  *time.Time `db:"birth_date" json:"birth_date,omitempty"`
	Phone      *string    `db:"phone" json:"phone,omitempty"`
	Email      *string    `db:"email" json:"email,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}

// FullName is the display form used by dispense reporting.
func (p *Patient) FullName() string {
	return p.GivenName + " " + p.FamilyName
}
