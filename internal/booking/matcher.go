package booking

import (
	"context"

	"github.com/example/ride-booking/internal/models"
	"github.com/example/ride-booking/internal/storage"
)

// Vehicle classes come in two isolated compatibility groups. Standard and
// Luxury drivers see each other's bookings (including the Dutch spellings the
// fleet data carries); Taxi Bus work is visible only to Taxi Bus drivers.
var (
	standardGroup = []string{"Standard", "Standaard", "Luxury", "Luxe"}
	taxiBusGroup  = []string{"Taxi Bus", "Taxibus", "Taxi-Bus"}
)

func inGroup(group []string, t string) bool {
	for _, g := range group {
		if g == t {
			return true
		}
	}
	return false
}

// visibleCategories maps a driver's approved vehicle types onto the booking
// categories the driver may serve.
func visibleCategories(vehicleTypes []string) []string {
	var out []string
	std, bus := false, false
	for _, t := range vehicleTypes {
		if inGroup(standardGroup, t) {
			std = true
		}
		if inGroup(taxiBusGroup, t) {
			bus = true
		}
	}
	if std {
		out = append(out, standardGroup...)
	}
	if bus {
		out = append(out, taxiBusGroup...)
	}
	return out
}

// AvailableBookings returns the pending, unexpired bookings a driver may see.
// With an empty driverID the feed is unfiltered (the admin view).
func (s *Service) AvailableBookings(ctx context.Context, driverID string) ([]models.Booking, error) {
	return s.pendingFeed(ctx, driverID, nil)
}

// LiveBookings is the broadcast feed: auto-tier only. Admin-assigned bookings
// are never broadcast; their driver finds them via AssignedBookings.
func (s *Service) LiveBookings(ctx context.Context, driverID string) ([]models.Booking, error) {
	auto := models.AssignAuto
	return s.pendingFeed(ctx, driverID, &auto)
}

func (s *Service) pendingFeed(ctx context.Context, driverID string, tier *models.AssignmentType) ([]models.Booking, error) {
	now := s.now()
	f := storage.Filter{
		Statuses:       []models.BookingStatus{models.StatusPending},
		AssignmentType: tier,
		NotExpired:     true,
		OpenWindowAt:   &now,
	}
	if driverID != "" && s.Vehicles != nil {
		types, err := s.Vehicles.ApprovedTypes(ctx, driverID)
		if err != nil {
			// Eligibility lookup failure degrades to an unfiltered feed
			// rather than failing the request.
			s.Log.Warn("vehicle lookup failed, serving unfiltered feed",
				"driver_id", driverID, "error", err)
		} else {
			cats := visibleCategories(types)
			if len(cats) == 0 {
				return nil, nil
			}
			f.Categories = cats
		}
	}
	list, err := s.Store.FindMany(ctx, f, storage.Sort{Field: "created_at"}, storage.Page{})
	if err != nil {
		return nil, wrap("available_bookings", "", err)
	}
	return list, nil
}

// AssignedBookings lists a driver's own bookings: pending assignments plus
// anything in flight.
func (s *Service) AssignedBookings(ctx context.Context, driverID string) ([]models.Booking, error) {
	statuses := append([]models.BookingStatus{models.StatusPending}, models.ActiveStatuses...)
	list, err := s.Store.FindMany(ctx, storage.Filter{
		Statuses: statuses,
		DriverID: &driverID,
	}, storage.Sort{Field: "created_at", Desc: true}, storage.Page{})
	if err != nil {
		return nil, wrap("assigned_bookings", "", err)
	}
	return list, nil
}
