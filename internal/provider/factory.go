package provider

// New builds the adapter for a provider type. The credential is the
// decrypted plaintext key, ignored by local backends.
func New(kind Type, baseURL, credential string) (Adapter, error) {
	switch kind {
	case TypeOllama:
		return NewOllamaAdapter(baseURL), nil
	case TypeOpenAI, TypeOpenRouter, TypeTinfoil:
		return NewOpenAIAdapter(kind, baseURL, credential), nil
	default:
		return nil, NewError(CodeValidation, "unsupported provider type: "+string(kind))
	}
}
