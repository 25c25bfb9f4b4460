package tools

// New assembles the full built-in tool set against deps and returns a
// populated Registry, per spec.md §4.E's core set. enabled, when
// non-nil, restricts registration to the named tools — an empty or nil
// set registers everything, matching spec.md §4.K's "register tools
// according to enabled flags".
func New(deps *Deps, enabled map[string]bool) *Registry {
	r := NewRegistry()

	builders := []func(*Deps) *Tool{
		NewStoreContext,
		NewRetrieveContext,
		NewSearchContext,
		NewDeleteContext,
		NewListContextTypes,
		NewUpsertFact,
		NewGetUserFacts,
		NewForgetContext,
		NewQueryGraph,
		NewUpdateScratchpad,
		NewGetAgentState,
		NewStreamingSearch,
		NewBatchOperations,
		NewWebhookManagement,
		NewEventNotification,
		NewAnalytics,
		NewMetrics,
	}

	for _, build := range builders {
		t := build(deps)
		if len(enabled) > 0 && !enabled[t.Name] {
			continue
		}
		r.MustRegister(t)
	}

	return r
}
