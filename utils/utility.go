package utils

import "io"

// CountingReader tracks how many bytes have been consumed from r.
type CountingReader struct {
	r io.Reader
	n int64
}

func NewCountingReader(r io.Reader, start int64) *CountingReader {
	return &CountingReader{r: r, n: start}
}

func (c *CountingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// Offset returns the number of bytes read so far plus the start offset.
func (c *CountingReader) Offset() int64 {
	return c.n
}
