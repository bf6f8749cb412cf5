package transport

// New constructs the concrete Transport backend selected by cfg.Kind.
func New(cfg Config) Transport {
	switch cfg.Kind {
	case KindWS, KindWSS:
		return newWSTransport(cfg)
	default:
		return newTCPTransport(cfg)
	}
}
