// Package seatmap tracks seat occupancy for a single course's registration
// window (spec §4.3). Seats are labeled row-major, "A1".."A<seatsPerRow>",
// "B1".., filled in the same row-major order as the teacher's matrix
// seating algorithm for exam rooms, repurposed here for one course instead
// of one exam room.
package seatmap

import (
	"fmt"
	"sync"

	"github.com/campusreg/registrar/internal/apierr"
)

const rowLetters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// Label returns the row-major seat label for a zero-based index, given the
// course's seatsPerRow. Rows beyond 26 fall back to numeric row prefixes.
func Label(index, seatsPerRow int) string {
	row := index / seatsPerRow
	col := index%seatsPerRow + 1
	if row < len(rowLetters) {
		return fmt.Sprintf("%c%d", rowLetters[row], col)
	}
	return fmt.Sprintf("R%dC%d", row+1, col)
}

// Map tracks which seats are occupied for one course.
type Map struct {
	mu          sync.RWMutex
	seatsPerRow int
	total       int
	labels      []string         // ordered by index, for pickLowestFree
	occupiedBy  map[string]string // seatLabel -> studentId
}

// New builds an empty Map of totalSeats seats laid out at seatsPerRow per row.
func New(totalSeats, seatsPerRow int) *Map {
	labels := make([]string, totalSeats)
	for i := range labels {
		labels[i] = Label(i, seatsPerRow)
	}
	return &Map{
		seatsPerRow: seatsPerRow,
		total:       totalSeats,
		labels:      labels,
		occupiedBy:  make(map[string]string),
	}
}

func (m *Map) isValidLabel(label string) bool {
	for _, l := range m.labels {
		if l == label {
			return true
		}
	}
	return false
}

// Occupy assigns seatLabel to studentId. Fails with apierr.InvalidSeatLabel
// if the label does not exist on this map, or apierr.SeatTaken if another
// student already holds it.
func (m *Map) Occupy(seatLabel, studentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.isValidLabel(seatLabel) {
		return apierr.New(apierr.InvalidSeatLabel, fmt.Sprintf("seat %q does not exist on this course", seatLabel))
	}
	if holder, taken := m.occupiedBy[seatLabel]; taken && holder != studentID {
		return apierr.New(apierr.SeatTaken, fmt.Sprintf("seat %q is already taken", seatLabel))
	}
	m.occupiedBy[seatLabel] = studentID
	return nil
}

// Release frees seatLabel. Idempotent: releasing an already-free seat is a
// no-op.
func (m *Map) Release(seatLabel string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.occupiedBy, seatLabel)
}

// PickLowestFree returns the lowest-index unoccupied seat label, in
// row-major order, or ok=false if the course is full.
func (m *Map) PickLowestFree() (label string, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, l := range m.labels {
		if _, taken := m.occupiedBy[l]; !taken {
			return l, true
		}
	}
	return "", false
}

// OccupiedCount returns the number of currently occupied seats.
func (m *Map) OccupiedCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.occupiedBy)
}

// Capacity returns the total number of seats on the map.
func (m *Map) Capacity() int {
	return m.total
}

// IsFull reports whether every seat is occupied.
func (m *Map) IsFull() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.occupiedBy) >= m.total
}

// HolderOf returns the studentId occupying seatLabel, if any.
func (m *Map) HolderOf(seatLabel string) (studentID string, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	studentID, ok = m.occupiedBy[seatLabel]
	return
}

// State returns a snapshot of seatLabel -> studentId for every occupied seat.
func (m *Map) State() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.occupiedBy))
	for k, v := range m.occupiedBy {
		out[k] = v
	}
	return out
}

// Seat describes a single seat's position and occupancy.
type Seat struct {
	Label     string `json:"label"`
	Row       int    `json:"row"`
	Column    int    `json:"column"`
	Occupied  bool   `json:"occupied"`
	StudentID string `json:"studentId,omitempty"`
}

// Seats returns every seat on the map, occupied and free, in row-major
// order with the same row/column numbering Label uses.
func (m *Map) Seats() []Seat {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Seat, len(m.labels))
	for i, label := range m.labels {
		studentID, occupied := m.occupiedBy[label]
		out[i] = Seat{
			Label:     label,
			Row:       i / m.seatsPerRow,
			Column:    i%m.seatsPerRow + 1,
			Occupied:  occupied,
			StudentID: studentID,
		}
	}
	return out
}
