package server

import (
	"context"
	"testing"
	"time"

	"github.com/Zideooop/Equipments-Management-Lite-sub000/internal/equipment"
)

func TestChangeDispatcherPublishesToEverySubscriber(t *testing.T) {
	dispatcher := NewChangeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first, cleanupFirst := dispatcher.Subscribe(ctx)
	defer cleanupFirst()
	second, cleanupSecond := dispatcher.Subscribe(ctx)
	defer cleanupSecond()

	dispatcher.Publish(equipment.ChangeNotice{
		Type:      equipment.ChangeNoticeType,
		IDs:       []string{"item-a", "item-b"},
		Timestamp: equipment.NewTimestamp(time.Now()),
	})

	for index, stream := range []<-chan equipment.ChangeNotice{first, second} {
		select {
		case received := <-stream:
			if received.Type != equipment.ChangeNoticeType {
				t.Fatalf("subscriber %d: unexpected type %s", index, received.Type)
			}
			if len(received.IDs) != 2 {
				t.Fatalf("subscriber %d: expected 2 ids, got %d", index, len(received.IDs))
			}
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("subscriber %d: expected notice within deadline", index)
		}
	}
}

func TestChangeDispatcherIgnoresUntypedNotices(t *testing.T) {
	dispatcher := NewChangeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx)
	defer cleanup()

	dispatcher.Publish(equipment.ChangeNotice{IDs: []string{"item-a"}})

	select {
	case <-stream:
		t.Fatal("did not expect an untyped notice to be delivered")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestChangeDispatcherDropsSubscriberOnCancel(t *testing.T) {
	dispatcher := NewChangeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())

	_, _ = dispatcher.Subscribe(ctx)
	if dispatcher.SubscriberCount() != 1 {
		t.Fatalf("expected one subscriber")
	}
	cancel()

	deadline := time.Now().Add(time.Second)
	for dispatcher.SubscriberCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expected subscriber to be removed after cancellation")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestChangeDispatcherDoesNotBlockOnFullSubscriber(t *testing.T) {
	dispatcher := NewChangeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, cleanup := dispatcher.Subscribe(ctx)
	defer cleanup()

	done := make(chan struct{})
	go func() {
		for index := 0; index < defaultSubscriberBuffer*4; index++ {
			dispatcher.Publish(equipment.ChangeNotice{Type: equipment.ChangeNoticeType})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
}
