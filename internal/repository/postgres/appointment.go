package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/reminder-service/internal/model"
	"github.com/jwalitptl/reminder-service/internal/repository"
)

// Appointments are owned by the web application; this repository only reads.

type appointmentRepository struct {
	BaseRepository
}

func NewAppointmentRepository(base BaseRepository) repository.AppointmentRepository {
	return &appointmentRepository{base}
}

func (r *appointmentRepository) Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	query := `
		SELECT id, patient_id, scheduled_at, status, treatment_type,
			   cancel_reason, created_at, updated_at
		FROM appointments
		WHERE id = $1
	`
	var appointment model.Appointment
	if err := r.db.GetContext(ctx, &appointment, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("appointment not found")
		}
		return nil, fmt.Errorf("failed to get appointment: %w", err)
	}
	return &appointment, nil
}

func (r *appointmentRepository) FindScheduledOn(ctx context.Context, day time.Time) ([]*model.Appointment, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.AddDate(0, 0, 1)

	query := `
		SELECT id, patient_id, scheduled_at, status, treatment_type,
			   cancel_reason, created_at, updated_at
		FROM appointments
		WHERE scheduled_at >= $1 AND scheduled_at < $2
		AND status IN ('booked', 'visited')
		ORDER BY scheduled_at ASC
	`
	var appointments []*model.Appointment
	if err := r.db.SelectContext(ctx, &appointments, query, start, end); err != nil {
		return nil, fmt.Errorf("failed to find appointments for day: %w", err)
	}
	return appointments, nil
}
