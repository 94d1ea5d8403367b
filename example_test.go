package handshake_test

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	handshake "github.com/joeycumines/go-handshake"
)

// Example posts an action to a cooperatively polling worker goroutine and
// waits for it to run.
func Example() {
	engine, err := handshake.New()
	if err != nil {
		log.Fatal(err)
	}

	workerCh := make(chan *handshake.Worker, 1)
	stop := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		sp := engine.Current()
		defer sp.Worker().Exit()
		workerCh <- sp.Worker()
		loc := handshake.NewLocation("worker loop")
		for {
			select {
			case <-stop:
				return
			default:
			}
			if err := sp.Poll(loc); err != nil {
				log.Print(err)
			}
			time.Sleep(100 * time.Microsecond)
		}
	}()
	worker := <-workerCh

	var counter atomic.Int64
	h, err := engine.RunThreadLocal(
		[]*handshake.Worker{worker},
		func(loc *handshake.Location) error {
			counter.Add(1)
			return nil
		},
		nil,   // onDone
		true,  // sideEffecting
		false, // sync
	)
	if err != nil {
		log.Fatal(err)
	}
	if err := h.Get(context.Background()); err != nil {
		log.Fatal(err)
	}

	close(stop)
	<-stopped

	fmt.Println("actions performed:", counter.Load())

	// Output:
	// actions performed: 1
}
