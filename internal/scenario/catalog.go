package scenario

// Category groups scenarios for the profile dashboard.
type Category string

const (
	CategoryDailyLife    Category = "Daily Life"
	CategoryTravel       Category = "Travel"
	CategoryProfessional Category = "Professional"
	CategorySocial       Category = "Social"
	CategoryOther        Category = "Other"
)

// Scenario is an immutable role-play definition. Loaded once at startup,
// never mutated.
type Scenario struct {
	ID            string
	Title         string
	CharacterRole string
	Goals         []string
	BackgroundURL string
	Category      Category
}

var ordered = []Scenario{
	{
		ID:            "cafe",
		Title:         "Café",
		CharacterRole: "Barista",
		Goals: []string{
			"Greet the barista",
			"Order a drink",
			"Ask about the price",
			"Thank them and say goodbye",
		},
		BackgroundURL: "https://images.unsplash.com/photo-1495474472287-4d71bcdd2085?w=1200&q=80",
		Category:      CategoryDailyLife,
	},
	{
		ID:            "interview",
		Title:         "Job Interview",
		CharacterRole: "Interviewer",
		Goals: []string{
			"Introduce yourself",
			"Describe your experience",
			"Answer a strength question",
			"Ask a question about the role",
		},
		BackgroundURL: "https://images.unsplash.com/photo-1497366216548-37526070297c?w=1200&q=80",
		Category:      CategoryProfessional,
	},
	{
		ID:            "airport",
		Title:         "Airport",
		CharacterRole: "Check-in agent",
		Goals: []string{
			"Check in for your flight",
			"Ask about your gate",
			"Confirm boarding time",
			"Ask where to go for security",
		},
		BackgroundURL: "https://images.unsplash.com/photo-1436491865332-7a61a109cc05?w=1200&q=80",
		Category:      CategoryTravel,
	},
	{
		ID:            "doctor",
		Title:         "Doctor's Office",
		CharacterRole: "Doctor",
		Goals: []string{
			"Describe your symptoms",
			"Answer questions about duration",
			"Ask about treatment options",
			"Thank the doctor",
		},
		BackgroundURL: "https://images.unsplash.com/photo-1576091160399-112ba8d25d1d?w=1200&q=80",
		Category:      CategoryProfessional,
	},
	{
		ID:            "shopping",
		Title:         "Shopping",
		CharacterRole: "Shop assistant",
		Goals: []string{
			"Ask to see an item",
			"Ask about the price",
			"Ask for a different size",
			"Decide to buy or not",
		},
		BackgroundURL: "https://images.unsplash.com/photo-1441986300917-64674bd600d8?w=1200&q=80",
		Category:      CategoryDailyLife,
	},
	{
		ID:            "dating",
		Title:         "Dating",
		CharacterRole: "Your date",
		Goals: []string{
			"Introduce yourself",
			"Ask about their interests",
			"Share something about yourself",
			"Suggest meeting again",
		},
		BackgroundURL: "https://images.unsplash.com/photo-1511795409834-ef04bbd61622?w=1200&q=80",
		Category:      CategorySocial,
	},
	{
		ID:            "hotel",
		Title:         "Hotel",
		CharacterRole: "Receptionist",
		Goals: []string{
			"Check in with a reservation",
			"Ask about breakfast times",
			"Ask for room key / WiFi",
			"Thank the receptionist",
		},
		BackgroundURL: "https://images.unsplash.com/photo-1566073771259-6a0e4b0c6c45?w=1200&q=80",
		Category:      CategoryTravel,
	},
	{
		ID:            "restaurant",
		Title:         "Restaurant",
		CharacterRole: "Waiter",
		Goals: []string{
			"Get the menu",
			"Order food and drink",
			"Ask for the bill",
			"Thank the waiter",
		},
		BackgroundURL: "https://images.unsplash.com/photo-1517248135467-4c7edcad34c4?w=1200&q=80",
		Category:      CategoryDailyLife,
	},
	{
		ID:            "taxi",
		Title:         "Taxi",
		CharacterRole: "Driver",
		Goals: []string{
			"Tell the driver your destination",
			"Ask how long it will take",
			"Ask about the fare",
			"Thank the driver",
		},
		BackgroundURL: "https://images.unsplash.com/photo-1449965408869-eaa3f722e40d?w=1200&q=80",
		Category:      CategoryDailyLife,
	},
}

var byID = func() map[string]Scenario {
	m := make(map[string]Scenario, len(ordered))
	for _, s := range ordered {
		m[s.ID] = s
	}
	return m
}()

// Get returns the scenario for id and whether it exists.
func Get(id string) (Scenario, bool) {
	s, ok := byID[id]
	return s, ok
}

// List returns all scenarios in catalog order. The returned slice is a copy.
func List() []Scenario {
	out := make([]Scenario, len(ordered))
	copy(out, ordered)
	return out
}

// CategoryOf returns the dashboard category for a scenario id.
func CategoryOf(id string) Category {
	if s, ok := byID[id]; ok {
		return s.Category
	}
	return CategoryOther
}
