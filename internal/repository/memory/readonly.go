package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/reminder-service/internal/model"
	"github.com/jwalitptl/reminder-service/internal/repository"
)

// AppointmentRepository holds appointments seeded by tests. The production
// table is owned by the web layer, so the in-memory variant exposes Put for
// seeding alongside the read-only interface.
type AppointmentRepository struct {
	mu           sync.Mutex
	appointments map[uuid.UUID]*model.Appointment
}

func NewAppointmentRepository() *AppointmentRepository {
	return &AppointmentRepository{appointments: make(map[uuid.UUID]*model.Appointment)}
}

var _ repository.AppointmentRepository = (*AppointmentRepository)(nil)

func (s *AppointmentRepository) Put(appointment *model.Appointment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *appointment
	s.appointments[appointment.ID] = &c
}

func (s *AppointmentRepository) Get(_ context.Context, id uuid.UUID) (*model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	appointment, ok := s.appointments[id]
	if !ok {
		return nil, fmt.Errorf("appointment not found")
	}
	c := *appointment
	return &c, nil
}

func (s *AppointmentRepository) FindScheduledOn(_ context.Context, day time.Time) ([]*model.Appointment, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.AddDate(0, 0, 1)

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.Appointment
	for _, a := range s.appointments {
		if a.ScheduledAt.Before(start) || !a.ScheduledAt.Before(end) {
			continue
		}
		if !a.RemindersAllowed() {
			continue
		}
		c := *a
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out, nil
}

// PatientRepository holds patients seeded by tests.
type PatientRepository struct {
	mu       sync.Mutex
	patients map[uuid.UUID]*model.Patient
}

func NewPatientRepository() *PatientRepository {
	return &PatientRepository{patients: make(map[uuid.UUID]*model.Patient)}
}

var _ repository.PatientRepository = (*PatientRepository)(nil)

func (s *PatientRepository) Put(patient *model.Patient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *patient
	s.patients[patient.ID] = &c
}

func (s *PatientRepository) Get(_ context.Context, id uuid.UUID) (*model.Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	patient, ok := s.patients[id]
	if !ok {
		return nil, fmt.Errorf("patient not found")
	}
	c := *patient
	return &c, nil
}
