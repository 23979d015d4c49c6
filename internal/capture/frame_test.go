package capture

import (
	"image"
	"sync"
	"testing"
	"time"
)

func TestSlotKeepsOnlyLatest(t *testing.T) {
	var s Slot
	if s.Latest() != nil {
		t.Fatal("empty slot returned a frame")
	}
	a, b := frameAt(0), frameAt(time.Second)
	s.Write(a)
	s.Write(b)
	if s.Latest() != b || s.Latest() != b {
		t.Error("slot did not return the latest frame on repeated reads")
	}
}

func TestSlotConcurrentReadersSeeWholeFrames(t *testing.T) {
	var s Slot
	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			img := image.NewRGBA(image.Rect(0, 0, i%7+1, i%5+1))
			s.Write(&Frame{Image: img, CapturedAt: epoch.Add(time.Duration(i))})
		}
	}()

	for i := 0; i < 10000; i++ {
		f := s.Latest()
		if f == nil {
			continue
		}
		if len(f.Image.Pix) != f.Width()*f.Height()*4 {
			t.Fatalf("torn frame: %dx%d with %d bytes", f.Width(), f.Height(), len(f.Image.Pix))
		}
	}
	close(stop)
	wg.Wait()
}

func TestBGRAToRGBA(t *testing.T) {
	data := []byte{
		10, 20, 30, 0, 40, 50, 60, 0,
		70, 80, 90, 0, 1, 2, 3, 0,
	}
	img := bgraToRGBA(data, 2, 2, 24)
	if got := img.RGBAAt(0, 0); got.R != 30 || got.G != 20 || got.B != 10 || got.A != 255 {
		t.Errorf("pixel (0,0) = %v", got)
	}
	if got := img.RGBAAt(1, 1); got.R != 3 || got.B != 1 {
		t.Errorf("pixel (1,1) = %v", got)
	}

	short := bgraToRGBA(data[:6], 2, 2, 32)
	if got := short.RGBAAt(0, 0); got.R != 30 {
		t.Errorf("short buffer pixel = %v", got)
	}
	if got := bgraToRGBA(data, 2, 2, 16).RGBAAt(0, 0); got.A != 0 {
		t.Errorf("unsupported depth produced %v", got)
	}
}
