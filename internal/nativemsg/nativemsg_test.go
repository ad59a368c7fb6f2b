package nativemsg

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aegis-sign/psbt-bridge/internal/credential"
	"github.com/aegis-sign/psbt-bridge/pkg/apierrors"
)

func TestReadWrite(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, Request{Type: TypeGetPassword, RequestID: "req-1"}))
	require.Equal(t, uint32(buf.Len()-4), binary.LittleEndian.Uint32(buf.Bytes()[:4]))

	raw, err := Read(&buf)
	require.NoError(t, err)
	var req Request
	require.NoError(t, json.Unmarshal(raw, &req))
	require.Equal(t, TypeGetPassword, req.Type)
	require.Equal(t, "req-1", req.RequestID)

	_, err = Read(&buf)
	require.ErrorIs(t, err, io.EOF)
}

func TestReadRejectsBadLengths(t *testing.T) {
	_, err := Read(bytes.NewReader([]byte{0, 0, 0, 0}))
	require.Error(t, err)

	header := make([]byte, 4)
	binary.LittleEndian.PutUint32(header, MaxMessageSize+1)
	_, err = Read(bytes.NewReader(header))
	require.ErrorIs(t, err, ErrFrameTooLarge)

	binary.LittleEndian.PutUint32(header, 10)
	_, err = Read(bytes.NewReader(append(header, '{')))
	require.Error(t, err)
}

func TestWriteRejectsOversizedMessage(t *testing.T) {
	var buf bytes.Buffer
	err := Write(&buf, strings.Repeat("x", MaxMessageSize))
	require.ErrorIs(t, err, ErrFrameTooLarge)
	require.Zero(t, buf.Len())
}

func TestHostHandle(t *testing.T) {
	ctx := context.Background()
	h := NewHost(credential.New(credential.NewMemoryStore(), credential.Config{}), nil)

	require.True(t, h.Handle(ctx, Request{Type: TypeSessionExists}).Exists)
	pw := "s3cret"
	require.Nil(t, h.Handle(ctx, Request{Type: TypeSavePassword, Password: &pw}).Error)
	resp := h.Handle(ctx, Request{Type: TypeGetPassword, RequestID: "abc"})
	require.Equal(t, "s3cret", resp.Password)
	require.Equal(t, "abc", resp.RequestID)
	require.Nil(t, h.Handle(ctx, Request{Type: TypeClearPassword}).Error)
	require.Empty(t, h.Handle(ctx, Request{Type: TypeGetPassword}).Password)

	bad := h.Handle(ctx, Request{Type: TypeSavePassword})
	require.Equal(t, string(apierrors.CodeInvalidArgument), bad.Error.Code)
	unknown := h.Handle(ctx, Request{Type: "exportSeed"})
	require.Equal(t, string(apierrors.CodeInvalidArgument), unknown.Error.Code)

	none := NewHost(nil, nil).Handle(ctx, Request{Type: TypeGetPassword})
	require.Equal(t, string(apierrors.CodeUnavailable), none.Error.Code)
}

func TestHostServeSkipsUndecodableMessages(t *testing.T) {
	var in, out bytes.Buffer
	require.NoError(t, Write(&in, []int{1, 2}))
	require.NoError(t, Write(&in, Request{Type: TypeSessionExists, RequestID: "r1"}))

	h := NewHost(credential.New(credential.NewMemoryStore(), credential.Config{}), nil)
	require.NoError(t, h.Serve(context.Background(), &in, &out))

	raw, err := Read(&out)
	require.NoError(t, err)
	var resp Response
	require.NoError(t, json.Unmarshal(raw, &resp))
	require.Equal(t, "r1", resp.RequestID)
	require.True(t, resp.Exists)
	require.Zero(t, out.Len())
}

func TestClientAgainstHost(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	toHostR, toHostW := io.Pipe()
	fromHostR, fromHostW := io.Pipe()

	host := NewHost(credential.New(credential.NewMemoryStore(), credential.Config{}), nil)
	done := make(chan error, 1)
	go func() {
		done <- host.Serve(ctx, toHostR, fromHostW)
		fromHostW.Close()
	}()

	client := NewClient(ctx, fromHostR, toHostW, nil)
	require.True(t, client.SessionAvailable())
	require.Equal(t, "", client.Get(ctx))
	require.NoError(t, client.Save(ctx, "hunter2"))
	require.Equal(t, "hunter2", client.Get(ctx))
	require.NoError(t, client.Clear(ctx))
	require.Equal(t, "", client.Get(ctx))

	require.NoError(t, toHostW.Close())
	require.NoError(t, <-done)
}

func TestClientUnavailableHost(t *testing.T) {
	ctx := context.Background()
	var in bytes.Buffer
	client := NewClient(ctx, &in, io.Discard, nil)
	require.False(t, client.SessionAvailable())
	require.NoError(t, client.Save(ctx, "pw"))
	require.Equal(t, "", client.Get(ctx))
	require.NoError(t, client.Clear(ctx))
}

func TestClientRejectsMismatchedResponse(t *testing.T) {
	var in bytes.Buffer
	require.NoError(t, Write(&in, Response{RequestID: "someone-else", Exists: true}))
	c := &Client{r: &in, w: io.Discard}
	_, err := c.call(context.Background(), Request{Type: TypeSessionExists})
	require.True(t, apierrors.IsCode(err, apierrors.CodeTransport))
}
