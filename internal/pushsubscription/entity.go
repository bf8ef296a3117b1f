package pushsubscription

import "time"

// Subscription is a browser push endpoint with the keys needed to encrypt
// messages for it.
type Subscription struct {
	ID        string    `yaml:"id" json:"id"`
	Endpoint  string    `yaml:"endpoint" json:"endpoint"`
	P256dhKey string    `yaml:"p256dh_key" json:"p256dh_key"`
	AuthKey   string    `yaml:"auth_key" json:"auth_key"`
	CreatedAt time.Time `yaml:"created_at" json:"created_at"`
}

func (s Subscription) GetID() string {
	return s.ID
}
