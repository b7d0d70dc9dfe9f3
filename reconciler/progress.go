package reconciler

// ProgressSink receives monotonic progress for one apply run. Start is called
// once with the fixed total before the first Advance.
type ProgressSink interface {
	Start(total int)
	Advance(units int)
}

type nopProgress struct{}

func (nopProgress) Start(int)   {}
func (nopProgress) Advance(int) {}

// ProgressFunc adapts a callback receiving (done, total) to a ProgressSink.
type ProgressFunc func(done int, total int)

type funcProgress struct {
	fn    ProgressFunc
	done  int
	total int
}

func (f ProgressFunc) Sink() ProgressSink {
	return &funcProgress{fn: f}
}

func (p *funcProgress) Start(total int) {
	p.total = total
	p.done = 0
	if p.fn != nil {
		p.fn(0, total)
	}
}

func (p *funcProgress) Advance(units int) {
	p.done += units
	if p.fn != nil {
		p.fn(p.done, p.total)
	}
}
