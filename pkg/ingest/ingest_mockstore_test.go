package ingest

import (
	"errors"
	"testing"

	gomock "go.uber.org/mock/gomock"

	"github.com/dashchat/spaces-engine/pkg/authorstore"
	"github.com/dashchat/spaces-engine/pkg/store"
	"github.com/dashchat/spaces-engine/pkg/store/storemock"
)

// TestIngestSurfacesStoreInsertFailure uses a generated OperationStore mock
// to confirm Ingest propagates a backing store error rather than treating
// it as an ordinary rejection.
func TestIngestSurfacesStoreInsertFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockStore := storemock.NewMockOperationStore(ctrl)
	authors := authorstore.New()
	n := New(mockStore, authors, Config{})

	id := mustID(t)
	topic := testTopic(t)
	op := signedOp(t, id, topic, 0, nil, nil)

	hash, err := op.Id()
	if err != nil {
		t.Fatalf("Id: %v", err)
	}
	mockStore.EXPECT().Has(hash).Return(false)
	mockStore.EXPECT().Latest(id.ActorId(), topic).Return(store.Entry{}, false)
	wantErr := errors.New("disk full")
	mockStore.EXPECT().Insert(hash, op.Header, op.Body, topic).Return(false, wantErr)

	_, err = n.Ingest(op, topic)
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected store error to surface, got %v", err)
	}
}
