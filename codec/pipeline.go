package codec

// Info describes the video stream flowing through a chain of writers.
type Info struct {
	Width       uint
	Height      uint
	TimebaseNum int
	TimebaseDen int
}

type Writer interface {
	Write([]byte, Attributes) error
}

type WriterFunc func([]byte, Attributes) error

func (f WriterFunc) Write(b []byte, a Attributes) error {
	return f(b, a)
}

type MultiWriter interface {
	Writer
	WriteAll([][]byte, Attributes) error
}

type Processor interface {
	Link(Writer, Info) (Writer, error)
}

// Chain links processors back to front: the last processor receives the
// input and each one writes into the writer returned by its predecessor,
// ending in f.
func Chain(i Info, f Writer, processors ...Processor) (Writer, error) {
	var err error
	for _, p := range processors {
		f, err = p.Link(f, i)
		if err != nil {
			return nil, err
		}
	}
	return f, nil
}
