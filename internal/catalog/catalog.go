package catalog

// ModelProfile describes cost and context characteristics of a hosted model.
// Profiles are immutable once the catalog is constructed.
type ModelProfile struct {
	ID               string
	CostPer1MCents   int // cost per million tokens, integer cents
	MaxContextTokens int
	MaxOutputTokens  int
	Capabilities     []string
	Temperature      float64
	TopP             float64
}

// TaskType classifies an incoming request for routing purposes.
type TaskType string

const (
	TaskChat           TaskType = "chat"
	TaskQuickSummary   TaskType = "quick_summary"
	TaskDeepAnalysis   TaskType = "deep_analysis"
	TaskClassification TaskType = "classification"
)

// Urgency and Accuracy qualify a task without affecting eligibility.
type Urgency string

const (
	UrgencyRealtime Urgency = "realtime"
	UrgencyBatch    Urgency = "batch"
)

type Accuracy string

const (
	AccuracyStandard Accuracy = "standard"
	AccuracyCritical Accuracy = "critical"
)

// TaskDescriptor is the transient description of one request. It is never
// persisted.
type TaskDescriptor struct {
	Type       TaskType
	Prompt     string
	Context    string
	Complexity int // 1-10
	Urgency    Urgency
	Accuracy   Accuracy

	// ContextTokens is the caller's declared context length requirement.
	ContextTokens int
	// BudgetCeilingCents caps the eligible cost-per-million-token rate.
	// Zero means no cap.
	BudgetCeilingCents int

	RequestID string
	TenantID  string
	UserID    string
	ProjectID string
}

// Catalog is the immutable model registry. Construct once and pass explicitly;
// alternate catalogs keep selection deterministic in tests.
type Catalog struct {
	profiles  []ModelProfile
	index     map[string]ModelProfile
	preferred map[TaskType]string
}

func New(profiles []ModelProfile, preferred map[TaskType]string) *Catalog {
	c := &Catalog{
		profiles:  make([]ModelProfile, len(profiles)),
		index:     make(map[string]ModelProfile, len(profiles)),
		preferred: make(map[TaskType]string, len(preferred)),
	}
	copy(c.profiles, profiles)
	for _, p := range c.profiles {
		c.index[p.ID] = p
	}
	for t, id := range preferred {
		c.preferred[t] = id
	}
	return c
}

// Default returns the stock catalog used in production wiring.
func Default() *Catalog {
	return New([]ModelProfile{
		{ID: "gpt-4o", CostPer1MCents: 1000, MaxContextTokens: 128000, MaxOutputTokens: 16384, Capabilities: []string{"chat", "analysis"}, Temperature: 0.7, TopP: 1.0},
		{ID: "gpt-4o-mini", CostPer1MCents: 60, MaxContextTokens: 128000, MaxOutputTokens: 16384, Capabilities: []string{"chat", "summary"}, Temperature: 0.7, TopP: 1.0},
		{ID: "claude-sonnet", CostPer1MCents: 1500, MaxContextTokens: 200000, MaxOutputTokens: 8192, Capabilities: []string{"chat", "analysis"}, Temperature: 0.7, TopP: 1.0},
		{ID: "claude-haiku", CostPer1MCents: 100, MaxContextTokens: 200000, MaxOutputTokens: 8192, Capabilities: []string{"chat", "summary"}, Temperature: 0.7, TopP: 1.0},
		{ID: "gemini-flash", CostPer1MCents: 30, MaxContextTokens: 1000000, MaxOutputTokens: 8192, Capabilities: []string{"chat", "summary"}, Temperature: 0.7, TopP: 0.95},
	}, map[TaskType]string{
		TaskQuickSummary:   "gpt-4o-mini",
		TaskDeepAnalysis:   "claude-sonnet",
		TaskClassification: "gemini-flash",
	})
}

// Profile looks up a model by id.
func (c *Catalog) Profile(id string) (ModelProfile, bool) {
	p, ok := c.index[id]
	return p, ok
}

// Profiles returns the catalog entries in registration order.
func (c *Catalog) Profiles() []ModelProfile {
	out := make([]ModelProfile, len(c.profiles))
	copy(out, c.profiles)
	return out
}

// EstimateTokens approximates the token count of text at four characters per
// token, rounding up. Deterministic and side-effect free.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

// CostForTokens prices tokens against a model profile in integer cents.
// Rounding is always ceiling so usage is never under-charged.
func CostForTokens(p ModelProfile, tokens int) int64 {
	if tokens <= 0 {
		return 0
	}
	raw := int64(tokens) * int64(p.CostPer1MCents)
	return (raw + 999_999) / 1_000_000
}
