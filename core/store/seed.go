package store

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/kilianp07/routesync/core/model"
)

// Seed is the YAML import format for routes, stops and safety checks.
type Seed struct {
	Routes       []SeedRoute `yaml:"routes"`
	SafetyChecks []SeedCheck `yaml:"safety_checks"`
}

type SeedRoute struct {
	ID         string     `yaml:"id"`
	DriverID   string     `yaml:"driver_id"`
	DriverName string     `yaml:"driver_name"`
	Date       string     `yaml:"date"`
	Stops      []SeedStop `yaml:"stops"`
}

type SeedStop struct {
	ID            string  `yaml:"id"`
	Sequence      int     `yaml:"sequence"`
	DriverID      string  `yaml:"driver_id"`
	DriverName    string  `yaml:"driver_name"`
	CustomerName  string  `yaml:"customer_name"`
	Amount        float64 `yaml:"amount"`
	PaymentMethod string  `yaml:"payment_method"`
	PaymentStatus string  `yaml:"payment_status"`
}

// SeedCheck days may be the literal "today".
type SeedCheck struct {
	RouteID  string `yaml:"route_id"`
	DriverID string `yaml:"driver_id"`
	Day      string `yaml:"day"`
}

// LoadSeed parses a seed file.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load seed: read %q: %w", path, err)
	}
	var s Seed
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("load seed: parse yaml: %w", err)
	}
	return &s, s.validate()
}

func (s *Seed) validate() error {
	seen := make(map[string]bool)
	for i, r := range s.Routes {
		if strings.TrimSpace(r.ID) == "" {
			return fmt.Errorf("load seed: route at index %d has no id", i)
		}
		if _, err := time.Parse(model.DateLayout, r.Date); err != nil {
			return fmt.Errorf("load seed: route %s: invalid date %q", r.ID, r.Date)
		}
		for j, st := range r.Stops {
			if st.ID == "" {
				return fmt.Errorf("load seed: route %s: stop at index %d has no id", r.ID, j)
			}
			if seen[st.ID] {
				return fmt.Errorf("load seed: duplicate stop id %s", st.ID)
			}
			seen[st.ID] = true
		}
	}
	return nil
}

// Apply writes the seed. today replaces "today" in safety check days.
func (s *Seed) Apply(ctx context.Context, dst Seeder, checks SafetyChecks, today string, now time.Time) error {
	for _, r := range s.Routes {
		route := model.Route{
			ID:         r.ID,
			DriverID:   r.DriverID,
			DriverName: r.DriverName,
			Date:       r.Date,
			Status:     model.RoutePending,
			UpdatedAt:  now,
		}
		if err := dst.PutRoute(ctx, route); err != nil {
			return fmt.Errorf("seed route %s: %w", r.ID, err)
		}
		for i, st := range r.Stops {
			seq := st.Sequence
			if seq == 0 {
				seq = i + 1
			}
			stop := model.Stop{
				ID:            st.ID,
				RouteID:       r.ID,
				Sequence:      seq,
				Status:        model.StopPending,
				DriverID:      st.DriverID,
				DriverName:    st.DriverName,
				CustomerName:  st.CustomerName,
				Amount:        st.Amount,
				PaymentMethod: st.PaymentMethod,
				PaymentStatus: st.PaymentStatus,
			}
			if err := dst.PutStop(ctx, stop); err != nil {
				return fmt.Errorf("seed stop %s: %w", st.ID, err)
			}
		}
	}
	for _, c := range s.SafetyChecks {
		day := c.Day
		if day == "" || strings.EqualFold(day, "today") {
			day = today
		}
		_, err := checks.AddSafetyCheck(ctx, model.SafetyCheck{
			ID:        uuid.NewString(),
			RouteID:   c.RouteID,
			DriverID:  c.DriverID,
			Type:      model.StartOfDay,
			Day:       day,
			CreatedAt: now,
		})
		if err != nil {
			return fmt.Errorf("seed safety check %s/%s: %w", c.RouteID, c.DriverID, err)
		}
	}
	return nil
}
