package pipedispatch

// Guard ties the process-wide dispatcher to a scope:
//
//	g, err := pipedispatch.NewGuard(pipe, pipedispatch.LockDefault)
//	if err != nil {
//	    return err
//	}
//	defer g.Close()
//
//	g.Dispatcher().RegisterCallback(onPersonaChange)
//
// Only one guard should bound the dispatcher's lifetime at a time.
// Overlapping guards share the same singleton, and the first Close destroys
// it for all of them.
type Guard struct {
	d *Concurrent
}

// NewGuard obtains the process-wide dispatcher and starts its drive loop in
// the given mode. Both steps are no-ops if already done.
func NewGuard(pipe Pipe, mode LockMode, opts ...Option) (*Guard, error) {
	d, err := StartThread(pipe, mode, opts...)
	if err != nil {
		return nil, err
	}
	return &Guard{d: d}, nil
}

// Dispatcher returns the guarded dispatcher, or nil after Close.
func (g *Guard) Dispatcher() *Concurrent { return g.d }

// Close destroys the process-wide dispatcher unconditionally.
func (g *Guard) Close() error {
	g.d = nil
	return Destroy()
}
