package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// LocalActor is the single account this node publishes as. The keypair
// is generated on first boot and persisted.
type LocalActor struct {
	Id            uuid.UUID
	Username      string
	PublicKeyPem  string
	PrivateKeyPem string
	CreatedAt     time.Time
}

func (a *LocalActor) ToString() string {
	return fmt.Sprintf("\n\tId: %s \n\tUsername: %s \n\tCreatedAt: %s)", a.Id, a.Username, a.CreatedAt)
}
