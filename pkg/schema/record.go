// Package schema defines universal data structures shared by the records SDK,
// the local query engine and the reference backend.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// ID is an opaque, stable identity. The backend emits numeric ids, but values
// are kept in their string form so that 42 and "42" compare equal.
type ID string

// NewID formats a numeric id.
func NewID(n int64) ID {
	return ID(strconv.FormatInt(n, 10))
}

// Int64 returns the numeric form of the id, if it has one.
func (id ID) Int64() (int64, bool) {
	n, err := strconv.ParseInt(string(id), 10, 64)
	return n, err == nil
}

// IsZero reports whether the id is unset.
func (id ID) IsZero() bool { return id == "" }

func (id ID) String() string { return string(id) }

// MarshalJSON emits numeric ids as JSON numbers and anything else as a string.
func (id ID) MarshalJSON() ([]byte, error) {
	if id == "" {
		return []byte("null"), nil
	}
	if n, ok := id.Int64(); ok {
		return []byte(strconv.FormatInt(n, 10)), nil
	}
	return json.Marshal(string(id))
}

// UnmarshalJSON accepts a JSON number, a JSON string or null.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	if i, err := n.Int64(); err == nil {
		*id = NewID(i)
		return nil
	}
	// Integral floats such as 42.0 or 4.2e1 are the same id as 42.
	if f, err := n.Float64(); err == nil && f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		*id = NewID(int64(f))
		return nil
	}
	*id = ID(n.String())
	return nil
}

// DefaultPhotoLink is stored for records created without a photo.
const DefaultPhotoLink = "https://placehold.co/100x100/EEE/31343C?text=No+Image"

// Relationship statuses accepted by the backend.
const (
	StatusRegular   = "Regular"
	StatusFriend    = "Friend"
	StatusEnemy     = "Enemy"
	StatusConnected = "Connected"
)

// Record is one voter-roll entry.
type Record struct {
	ID                 ID        `json:"id"`
	Batch              ID        `json:"batch"`
	BatchName          string    `json:"batch_name,omitempty"`
	FileName           string    `json:"file_name"`
	KromikNo           string    `json:"kromik_no"`
	Naam               string    `json:"naam"`
	VoterNo            string    `json:"voter_no"`
	PitarNaam          string    `json:"pitar_naam,omitempty"`
	MatarNaam          string    `json:"matar_naam,omitempty"`
	Pesha              string    `json:"pesha,omitempty"`
	OccupationDetails  string    `json:"occupation_details,omitempty"`
	JonmoTarikh        string    `json:"jonmo_tarikh,omitempty"`
	Thikana            string    `json:"thikana,omitempty"`
	PhoneNumber        string    `json:"phone_number,omitempty"`
	WhatsappNumber     string    `json:"whatsapp_number,omitempty"`
	FacebookLink       string    `json:"facebook_link,omitempty"`
	TiktokLink         string    `json:"tiktok_link,omitempty"`
	YoutubeLink        string    `json:"youtube_link,omitempty"`
	InstaLink          string    `json:"insta_link,omitempty"`
	PhotoLink          string    `json:"photo_link,omitempty"`
	Description        string    `json:"description,omitempty"`
	PoliticalStatus    string    `json:"political_status,omitempty"`
	RelationshipStatus string    `json:"relationship_status"`
	Gender             string    `json:"gender,omitempty"`
	Age                *int      `json:"age,omitempty"`
	Events             []ID      `json:"events,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// Batch groups records imported from the same source.
type Batch struct {
	ID        ID        `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Relationship links a record to a related record (family ties).
type Relationship struct {
	ID      ID     `json:"id"`
	Record  ID     `json:"record"`
	Related ID     `json:"related"`
	Kind    string `json:"kind"`
}

// Stats mirrors the dashboard statistics endpoint.
type Stats struct {
	TotalRecords int `json:"total_records"`
	TotalBatches int `json:"total_batches"`
	FriendCount  int `json:"friend_count"`
	EnemyCount   int `json:"enemy_count"`
}
