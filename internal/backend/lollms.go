package backend

// lollmsAdapter speaks the extended Lollms API. Chat and model listing are
// OpenAI-compatible; the extended endpoints (tokenize, context size, text
// extraction) are reached through the dialect-independent builders in this
// package when the configuration enables them.
type lollmsAdapter struct {
	openaiAdapter
}

func (a *lollmsAdapter) Kind() Kind { return KindLollms }
