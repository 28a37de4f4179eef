package application

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"time"

	"sentinelfs/internal/domain/conflict"
	"sentinelfs/internal/domain/eventbus"
	"sentinelfs/internal/domain/governor"
	"sentinelfs/internal/domain/pipeline"
	"sentinelfs/internal/domain/ports"
	"sentinelfs/internal/domain/wire"
)

// sendDeadline bounds how long a single governed write may block
// before the session gives up and marks itself failed.
const sendDeadline = 30 * time.Second

// servePeer decodes frames from pc until the connection fails or the
// daemon shuts down, dispatching each by message type to the sync
// pipeline's sender or receiver side.
func (d *Daemon) servePeer(pc *peerConn) {
	defer func() {
		d.dropConn(pc.peerID, pc.conn)
		pc.conn.Close()
	}()

	for {
		frame, err := wire.DecodeFrame(pc.conn)
		if err != nil {
			d.logger.Debug("peer connection closed", "peer", pc.peerID, "error", err)
			return
		}
		if d.govern != nil {
			if err := d.govern.Acquire(context.Background(), wire.HeaderSize+len(frame.Payload), governor.Download, time.Time{}); err != nil {
				d.logger.Warn("bandwidth governor refused received frame", "peer", pc.peerID, "error", err)
				return
			}
		}

		msgType, payload, err := pc.sess.OnFrame(frame)
		if err != nil {
			d.logger.Warn("session rejected frame", "peer", pc.peerID, "error", err)
			return
		}

		if err := d.handleMessage(pc, msgType, payload); err != nil {
			d.logger.Warn("message handling failed", "peer", pc.peerID, "type", msgType, "error", err)
		}
	}
}

func (d *Daemon) handleMessage(pc *peerConn, msgType wire.MsgType, payload []byte) error {
	switch msgType {
	case wire.MsgFileMeta:
		return d.onFileMeta(pc, payload)
	case wire.MsgFileMetaAck:
		return d.onFileMetaAck(pc, payload)
	case wire.MsgSignatureList:
		return d.onSignatureList(pc, payload)
	case wire.MsgBlockData:
		return d.onBlockData(pc, payload)
	case wire.MsgBlockAck:
		return d.onBlockAck(pc, payload)
	case wire.MsgTransferComplete:
		return d.onTransferComplete(pc, payload)
	case wire.MsgDeleteFile:
		return d.onDeleteFile(pc, payload)
	case wire.MsgPing:
		return d.onPing(pc, payload)
	case wire.MsgPong:
		return d.onPong(pc, payload)
	default:
		return nil
	}
}

// onPing answers a liveness probe with a PONG echoing the same nonce
// and timestamp, letting the prober compute round-trip time without
// keeping per-peer clock state of its own.
func (d *Daemon) onPing(pc *peerConn, payload []byte) error {
	ping, err := wire.DecodePing(payload)
	if err != nil {
		return err
	}
	pong := wire.EncodePong(wire.Pong{Nonce: ping.Nonce, SentAtUnixNano: ping.SentAtUnixNano})
	return pc.sess.Send(context.Background(), wire.MsgPong, pong, time.Now().Add(sendDeadline))
}

// onPong completes a round trip started by the probe loop: it recovers
// the original send time from the echoed payload, so no per-nonce or
// per-peer send timestamp needs to be kept.
func (d *Daemon) onPong(pc *peerConn, payload []byte) error {
	pong, err := wire.DecodePong(payload)
	if err != nil {
		return err
	}
	rtt := time.Since(time.Unix(0, pong.SentAtUnixNano))
	if rtt < 0 {
		rtt = 0
	}
	d.netTrk.UpdateRTT(pc.peerID, rtt)
	return nil
}

func (d *Daemon) localPath(relative string) string {
	return filepath.Join(syncRoot(d.cfg), filepath.FromSlash(relative))
}

func localHashAndExists(path string) (hash [32]byte, exists bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return hash, false
	}
	return sha256.Sum256(data), true
}

// onFileMeta handles an incoming FILE_META: the receiver side of a
// transfer another peer is initiating toward us.
func (d *Daemon) onFileMeta(pc *peerConn, payload []byte) error {
	meta, err := wire.DecodeFileMeta(payload)
	if err != nil {
		return err
	}

	target := d.localPath(meta.Path)
	localHash, exists := localHashAndExists(target)
	bothSupportDelta := pc.sess.State().NegotiatedCapabilities&wire.CapDeltaSync != 0

	if exists && localHash != meta.Hash {
		d.surfaceConflict(pc.peerID, meta, target, localHash)
	}

	ackType, ctx := d.receiver.DecideFileMeta(pc.peerID, meta, exists, localHash, bothSupportDelta)

	ack := wire.EncodeFileMetaAck(wire.FileMetaAck{AckType: ackType, LocalHash: localHash, Path: meta.Path})
	if err := pc.sess.Send(context.Background(), wire.MsgFileMetaAck, ack, time.Now().Add(sendDeadline)); err != nil {
		return err
	}

	if ackType == wire.AckNeedDelta && ctx != nil {
		localBytes, _ := os.ReadFile(target)
		sigList := d.receiver.ComputeSignatures(meta.Path, localBytes, int(d.cfg.ChunkSize))
		payload := wire.EncodeSignatureList(sigList)
		return pc.sess.Send(context.Background(), wire.MsgSignatureList, payload, time.Now().Add(sendDeadline))
	}
	return nil
}

// surfaceConflict runs the §4.6 conflict detector against a FILE_META
// that diverges from the local copy's hash and persists the resulting
// record regardless of which side the policy picks as winner. Gated by
// conflict.surface, since some deployments would rather let NEED_DELTA/
// NEED_FULL silently overwrite than accumulate conflict rows.
func (d *Daemon) surfaceConflict(peerID string, meta wire.FileMeta, target string, localHash [32]byte) {
	if !d.cfg.Conflict.Surface {
		return
	}

	localMtime := time.Now()
	localSize := meta.Size
	if info, err := os.Stat(target); err == nil {
		localMtime = info.ModTime()
		localSize = uint64(info.Size())
	}

	rec, _ := conflict.Detect(conflict.Input{
		Path:         meta.Path,
		LocalHash:    hex.EncodeToString(localHash[:]),
		RemoteHash:   hex.EncodeToString(meta.Hash[:]),
		LocalPeerID:  d.localPeerID,
		RemotePeerID: peerID,
		LocalMtime:   localMtime,
		RemoteMtime:  time.Unix(int64(meta.Mtime), 0),
		LocalSize:    localSize,
		RemoteSize:   meta.Size,
	}, d.cfg.ConflictSkewThreshold())

	if err := d.store.PutConflict(context.Background(), rec); err != nil {
		d.logger.Warn("persist conflict record failed", "path", meta.Path, "peer", peerID, "error", err)
		return
	}
	d.bus.Publish(eventbus.New(eventbus.KindConflictDetected, map[string]string{"path": meta.Path, "peer_id": peerID}))
}

// onFileMetaAck handles the response to a FILE_META we sent: the
// sender side of a transfer we initiated toward this peer.
func (d *Daemon) onFileMetaAck(pc *peerConn, payload []byte) error {
	ack, err := wire.DecodeFileMetaAck(payload)
	if err != nil {
		return err
	}

	ctx, ok := d.xferMgr.Get(pc.peerID, ack.Path, pipeline.DirectionSend)
	if !ok {
		return nil
	}

	fileBytes, err := os.ReadFile(d.localPath(ack.Path))
	if err != nil {
		return err
	}

	streamPayload, err := d.sender.OnMetaAck(ctx, ack, fileBytes)
	if err != nil || streamPayload == nil {
		return err
	}
	return d.streamBlocks(pc, ctx, streamPayload)
}

func (d *Daemon) onSignatureList(pc *peerConn, payload []byte) error {
	sigList, err := wire.DecodeSignatureList(payload)
	if err != nil {
		return err
	}

	ctx, ok := d.xferMgr.Get(pc.peerID, sigList.Path, pipeline.DirectionSend)
	if !ok {
		return nil
	}

	fileBytes, err := os.ReadFile(d.localPath(sigList.Path))
	if err != nil {
		return err
	}

	streamPayload, err := d.sender.OnSignatureList(ctx, sigList, fileBytes, int(d.cfg.ChunkSize))
	if err != nil {
		return err
	}
	return d.streamBlocks(pc, ctx, streamPayload)
}

// streamBlocks splits payload into chunks and sends each as a
// BLOCK_DATA frame, governed by the session's bandwidth limiter. The
// chunks go out back to back: the loop does not wait for BLOCK_ACKs, so
// the number of unacknowledged chunks in flight is not bounded.
func (d *Daemon) streamBlocks(pc *peerConn, ctx *pipeline.TransferContext, payload []byte) error {
	chunkSize := pc.sess.State().AgreedChunkSize
	chunks := pipeline.ChunkPayload(payload, chunkSize)
	ctx.TotalChunks = uint32(len(chunks))

	for i, chunk := range chunks {
		block := wire.BlockData{
			Path:        ctx.RelativePath,
			ChunkIndex:  uint32(i),
			TotalChunks: uint32(len(chunks)),
			Data:        chunk,
		}
		if err := pc.sess.Send(context.Background(), wire.MsgBlockData, wire.EncodeBlockData(block), time.Now().Add(sendDeadline)); err != nil {
			return err
		}
	}
	return nil
}

func (d *Daemon) onBlockData(pc *peerConn, payload []byte) error {
	chunk, err := wire.DecodeBlockData(payload)
	if err != nil {
		return err
	}

	ctx, ok := d.xferMgr.Get(pc.peerID, chunk.Path, pipeline.DirectionRecv)
	if !ok {
		return nil
	}

	if ctx.TotalChunks == 0 {
		d.receiver.BeginBlockReceive(ctx, chunk.TotalChunks)
	}

	ack := d.receiver.OnBlockData(ctx, chunk)
	if err := pc.sess.Send(context.Background(), wire.MsgBlockAck, wire.EncodeBlockAck(ack), time.Now().Add(sendDeadline)); err != nil {
		return err
	}

	if d.receiver.Ready(ctx) {
		return d.commitTransfer(pc, ctx)
	}
	return nil
}

func (d *Daemon) commitTransfer(pc *peerConn, ctx *pipeline.TransferContext) error {
	var base []byte
	if ctx.UseDelta {
		base, _ = os.ReadFile(d.localPath(ctx.RelativePath))
	}

	commitErr := d.receiver.VerifyAndCommit(ctx, ctx.RelativePath, base)

	complete := wire.TransferComplete{Path: ctx.RelativePath, Success: commitErr == nil}
	if commitErr != nil {
		complete.Reason = commitErr.Error()
		d.bus.Publish(eventbus.New(eventbus.KindTransferFailed, map[string]string{"path": ctx.RelativePath, "peer_id": pc.peerID, "reason": commitErr.Error()}))
	} else {
		if data, err := os.ReadFile(d.localPath(ctx.RelativePath)); err == nil {
			d.versions.Save(ctx.RelativePath, data, ctx.FileHash)
		}
		d.bus.Publish(eventbus.New(eventbus.KindFileSynced, map[string]string{"path": ctx.RelativePath, "peer_id": pc.peerID}))
	}

	if err := pc.sess.Send(context.Background(), wire.MsgTransferComplete, wire.EncodeTransferComplete(complete), time.Now().Add(sendDeadline)); err != nil {
		return err
	}
	return commitErr
}

func (d *Daemon) onBlockAck(pc *peerConn, payload []byte) error {
	ack, err := wire.DecodeBlockAck(payload)
	if err != nil {
		return err
	}

	ctx, ok := d.xferMgr.Get(pc.peerID, ack.Path, pipeline.DirectionSend)
	if !ok {
		return nil
	}

	d.sender.OnBlockAck(ctx, ack, ctx.TotalChunks)
	return nil
}

func (d *Daemon) onTransferComplete(pc *peerConn, payload []byte) error {
	complete, err := wire.DecodeTransferComplete(payload)
	if err != nil {
		return err
	}

	ctx, ok := d.xferMgr.Get(pc.peerID, complete.Path, pipeline.DirectionSend)
	if !ok {
		return nil
	}
	return d.sender.OnTransferComplete(ctx, complete)
}

func (d *Daemon) onDeleteFile(pc *peerConn, payload []byte) error {
	del, err := wire.DecodeDeleteFile(payload)
	if err != nil {
		return err
	}

	target := d.localPath(del.Path)
	_, exists := localHashAndExists(target)
	return d.receiver.HandleDelete(del.Path, exists)
}

// watchLoop consumes local filesystem events and fans each one out as
// a new outbound transfer to every connected peer, skipping events the
// Anti-Loop ledger attributes to a remote write we just applied.
func (d *Daemon) watchLoop(ctx context.Context) {
	events := d.watcher.Events()
	errs := d.watcher.Errors()
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errs:
			if !ok {
				return
			}
			d.logger.Warn("watcher error", "error", err)
		case ev, ok := <-events:
			if !ok {
				return
			}
			d.handleWatchEvent(ctx, ev)
		}
	}
}

func (d *Daemon) handleWatchEvent(ctx context.Context, ev ports.WatchEvent) {
	root := syncRoot(d.cfg)
	rel, err := filepath.Rel(root, ev.Path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return
	}
	rel = filepath.ToSlash(rel)

	if d.antiLp.ShouldSuppress(ev.Path) {
		return
	}

	if ev.Op == ports.WatchOpRemove {
		d.broadcastDelete(rel)
		return
	}

	data, err := os.ReadFile(ev.Path)
	if err != nil {
		return
	}
	hash := sha256.Sum256(data)
	if err := d.store.PutFile(ctx, ports.FileRecord{Path: rel, Hash: hash, Mtime: time.Now(), Size: uint64(len(data)), SyncedFlag: false}); err != nil {
		d.logger.Warn("record file failed", "path", rel, "error", err)
	}

	d.mu.Lock()
	peersSnapshot := make([]*peerConn, 0, len(d.peers))
	for _, pc := range d.peers {
		peersSnapshot = append(peersSnapshot, pc)
	}
	d.mu.Unlock()

	for _, pc := range peersSnapshot {
		d.initiateTransfer(pc, rel, data, hash)
	}
}

func (d *Daemon) initiateTransfer(pc *peerConn, relPath string, data []byte, hash [32]byte) {
	ctx, meta := d.sender.StartTransfer(pc.peerID, relPath, data, hash)
	ctx.AgreedChunkSize = pc.sess.State().AgreedChunkSize
	if err := pc.sess.Send(context.Background(), wire.MsgFileMeta, wire.EncodeFileMeta(meta), time.Now().Add(sendDeadline)); err != nil {
		d.logger.Warn("send file meta failed", "peer", pc.peerID, "path", relPath, "error", err)
	}
}

func (d *Daemon) broadcastDelete(relPath string) {
	d.mu.Lock()
	peersSnapshot := make([]*peerConn, 0, len(d.peers))
	for _, pc := range d.peers {
		peersSnapshot = append(peersSnapshot, pc)
	}
	d.mu.Unlock()

	payload := wire.EncodeDeleteFile(wire.DeleteFile{Path: relPath})
	for _, pc := range peersSnapshot {
		if err := pc.sess.Send(context.Background(), wire.MsgDeleteFile, payload, time.Now().Add(sendDeadline)); err != nil {
			d.logger.Warn("send delete failed", "peer", pc.peerID, "path", relPath, "error", err)
		}
	}
}
