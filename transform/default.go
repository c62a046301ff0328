package transform

// EarlyTransforms returns the transforms that bring a freshly read body
// into a shape the later stages match on: simplified control flow, split
// and propagated variables, and inlined stack slots. They also run on the
// MoveNext methods of state machines before those are analyzed.
func EarlyTransforms() []Transform {
	return []Transform{
		ControlFlowSimplification{},
		SplitVariables{},
		CopyPropagation{},
		ILInlining{},
	}
}

// DefaultTransforms returns the full list of transforms with the optional
// ones selected by settings. A nil settings value selects DefaultSettings.
func DefaultTransforms(settings *Settings) []Transform {
	if settings == nil {
		settings = DefaultSettings()
	}
	ts := EarlyTransforms()
	if settings.YieldReturn {
		ts = append(ts, YieldReturnDecompiler{})
	}
	if settings.AsyncAwait {
		ts = append(ts, AsyncAwaitDecompiler{})
	}
	ts = append(ts,
		DetectPinnedRegions{},
		&BlockTransformPass{
			PassName:   "LoopDetection",
			PassStage:  StageLoops,
			Transforms: []BlockTransform{LoopDetection{}},
		},
	)
	if settings.SwitchStatement {
		ts = append(ts, SwitchDetection{})
	}
	ts = append(ts, &BlockTransformPass{
		PassName:   "ConditionDetection",
		PassStage:  StageConditions,
		Transforms: []BlockTransform{ConditionDetection{}},
	})
	if settings.LockStatement {
		ts = append(ts, LockTransform{})
	}
	if settings.UsingStatement {
		ts = append(ts, UsingTransform{})
	}
	ts = append(ts, &BlockTransformPass{
		PassName:  "Statements",
		PassStage: StageStatements,
		Transforms: []BlockTransform{&StatementPass{
			PassName:   "Statements",
			Transforms: []StatementTransform{InlineStatement{}, ExpressionTransforms{}},
		}},
	})
	if settings.HighLevelLoops {
		ts = append(ts, HighLevelLoopTransform{})
	}
	return append(ts,
		DeadStoreElimination{},
		RemoveStackSlots{},
		AssignVariableNames{},
	)
}

// DefaultPipeline returns a pipeline of DefaultTransforms.
func DefaultPipeline(settings *Settings) *Pipeline {
	return NewPipeline(DefaultTransforms(settings)...)
}
