package model

import "time"

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleDoctor  Role = "doctor"
	RolePatient Role = "patient"
)

type User struct {
	ID        string    `bun:",pk" json:"id"`
	Name      string    `bun:",notnull" json:"name"`
	Email     string    `bun:",unique,notnull" json:"email"`
	Role      Role      `bun:",notnull" json:"role"`
	CreatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp" json:"createdAt"`
}
