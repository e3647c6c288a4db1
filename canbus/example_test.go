package canbus_test

import (
	"context"
	"fmt"

	"github.com/iqr/casterbase/canbus"
)

func ExampleLoopbackBus() {
	ctx := context.Background()
	bus := canbus.NewLoopbackBus()
	a := bus.Open()
	b := bus.Open()
	defer a.Close()
	defer b.Close()

	_ = a.Send(ctx, canbus.MustFrame(0x123, []byte("hi")))
	f, _ := b.Receive(ctx)
	fmt.Println(f)
	// Output: 123 [2] 68 69
}

func ExampleMux() {
	ctx := context.Background()
	bus := canbus.NewLoopbackBus()
	defer bus.Close()

	mux := canbus.NewMux(bus.Open())
	defer mux.Close()
	replies, cancel := mux.Subscribe(canbus.ByMask(0x580, 0x780), 1)
	defer cancel()

	tx := bus.Open()
	_ = tx.Send(ctx, canbus.MustFrame(0x701, []byte{0x05}))
	_ = tx.Send(ctx, canbus.MustFrame(0x581, []byte{0x0A, 0x21, 0x01, 0x10, 0x00}))
	fmt.Println(<-replies)
	// Output: 581 [5] 0A 21 01 10 00
}
