package scenarios

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kilianp07/routesync/core/model"
	"github.com/kilianp07/routesync/core/store"
)

// ActorDef is a token holder referenced by name in steps.
type ActorDef struct {
	ID       string `yaml:"id"`
	Username string `yaml:"username"`
	Role     string `yaml:"role"`
}

func (a ActorDef) ToModel() (model.Actor, error) {
	role, ok := model.ParseRole(a.Role)
	if !ok {
		return model.Actor{}, fmt.Errorf("actor %s: unknown role %q", a.ID, a.Role)
	}
	return model.Actor{ID: a.ID, Username: a.Username, Role: role}, nil
}

// Await blocks a step until a stop reaches a status, for transitions made by
// reactors.
type Await struct {
	Stop   string `yaml:"stop"`
	Status string `yaml:"status"`
}

// Step is one client action. Exactly one of Transition, SafetyCheck or Await
// is set.
type Step struct {
	Actor       string `yaml:"actor"`
	Stop        string `yaml:"stop"`
	Status      string `yaml:"status"`
	SafetyCheck string `yaml:"safety_check"`
	Await       *Await `yaml:"await,omitempty"`
	Expect      int    `yaml:"expect"`
}

type ExpectedKPI struct {
	Driver    string  `yaml:"driver"`
	Date      string  `yaml:"date"`
	Total     int     `yaml:"total"`
	Completed int     `yaml:"completed"`
	Delivered float64 `yaml:"delivered"`
}

type Expected struct {
	Stops  map[string]string `yaml:"stops"`
	Routes map[string]string `yaml:"routes"`
	KPIs   []ExpectedKPI     `yaml:"kpis"`
}

type Scenario struct {
	Name        string              `yaml:"name"`
	Description string              `yaml:"description,omitempty"`
	Actors      map[string]ActorDef `yaml:"actors"`
	Seed        store.Seed          `yaml:"seed"`
	Steps       []Step              `yaml:"steps"`
	Expected    Expected            `yaml:"expected"`
}

func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, err
	}
	if sc.Name == "" {
		return nil, fmt.Errorf("%s: scenario has no name", path)
	}
	for i, st := range sc.Steps {
		if st.Await != nil {
			continue
		}
		if _, ok := sc.Actors[st.Actor]; !ok {
			return nil, fmt.Errorf("%s: step %d uses unknown actor %q", path, i, st.Actor)
		}
	}
	return &sc, nil
}
