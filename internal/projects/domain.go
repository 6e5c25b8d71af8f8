package projects

import "time"

// Default status assigned to newly created projects.
const StatusInProgress = "In Progress"

// Project is a construction site tracked as its own stock partition.
type Project struct {
	ID          int64
	Code        string
	Name        string
	Client      string
	Location    string
	Status      string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
