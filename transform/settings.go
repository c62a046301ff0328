package transform

// DefaultMinSwitchCases is the number of distinct case targets a chain of
// comparisons needs before it is turned into a switch.
const DefaultMinSwitchCases = 3

// MaxStatementReruns bounds how often a StatementPass revisits positions of
// one block.
const MaxStatementReruns = 1000

// Settings selects the optional transforms. Each sugar flag gates exactly
// one transform; disabling it yields equivalent but less structured
// output. A Settings value is immutable once handed to a pipeline.
type Settings struct {
	YieldReturn     bool `json:"yieldReturn" mapstructure:"yield-return"`
	AsyncAwait      bool `json:"asyncAwait" mapstructure:"async-await"`
	LockStatement   bool `json:"lockStatement" mapstructure:"lock-statement"`
	UsingStatement  bool `json:"usingStatement" mapstructure:"using-statement"`
	SwitchStatement bool `json:"switchStatement" mapstructure:"switch-statement"`
	HighLevelLoops  bool `json:"highLevelLoops" mapstructure:"high-level-loops"`

	// AggressiveInlining also inlines single-use user locals, not only
	// stack slots.
	AggressiveInlining bool `json:"aggressiveInlining" mapstructure:"aggressive-inlining"`

	MinSwitchCases int `json:"minSwitchCases" mapstructure:"min-switch-cases"`
}

// DefaultSettings enables every transform.
func DefaultSettings() *Settings {
	return &Settings{
		YieldReturn:     true,
		AsyncAwait:      true,
		LockStatement:   true,
		UsingStatement:  true,
		SwitchStatement: true,
		HighLevelLoops:  true,
		MinSwitchCases:  DefaultMinSwitchCases,
	}
}

func (s *Settings) minSwitchCases() int {
	if s.MinSwitchCases <= 0 {
		return DefaultMinSwitchCases
	}
	return s.MinSwitchCases
}
