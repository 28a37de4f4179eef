package wire

// FileMeta is the FILE_META payload (§6): full-file identity as seen by
// the sender.
type FileMeta struct {
	Size     uint64
	Mtime    uint64
	Perms    uint32
	FileType uint8
	HashAlgo uint8
	Hash     [32]byte
	Path     string
}

func EncodeFileMeta(m FileMeta) []byte {
	buf := make([]byte, 0, 8+8+4+1+1+32+2+len(m.Path))
	buf = appendU64(buf, m.Size)
	buf = appendU64(buf, m.Mtime)
	buf = appendU32(buf, m.Perms)
	buf = append(buf, m.FileType, m.HashAlgo)
	buf = append(buf, m.Hash[:]...)
	buf = appendLenPrefixedString(buf, m.Path)
	return buf
}

func DecodeFileMeta(payload []byte) (FileMeta, error) {
	r := newReader(payload)
	var m FileMeta
	var err error
	if m.Size, err = r.u64(); err != nil {
		return m, wrapFrameErr(err)
	}
	if m.Mtime, err = r.u64(); err != nil {
		return m, wrapFrameErr(err)
	}
	if m.Perms, err = r.u32(); err != nil {
		return m, wrapFrameErr(err)
	}
	if m.FileType, err = r.u8(); err != nil {
		return m, wrapFrameErr(err)
	}
	if m.HashAlgo, err = r.u8(); err != nil {
		return m, wrapFrameErr(err)
	}
	if m.Hash, err = r.fixed32(); err != nil {
		return m, wrapFrameErr(err)
	}
	if m.Path, err = r.lenPrefixedString(); err != nil {
		return m, wrapFrameErr(err)
	}
	return m, nil
}

// FileMetaAck is the FILE_META_ACK payload: the receiver's verdict.
type FileMetaAck struct {
	AckType   AckType
	LocalHash [32]byte
	Path      string
}

func EncodeFileMetaAck(a FileMetaAck) []byte {
	buf := make([]byte, 0, 1+32+2+len(a.Path))
	buf = append(buf, byte(a.AckType))
	buf = append(buf, a.LocalHash[:]...)
	buf = appendLenPrefixedString(buf, a.Path)
	return buf
}

func DecodeFileMetaAck(payload []byte) (FileMetaAck, error) {
	r := newReader(payload)
	var a FileMetaAck
	ackType, err := r.u8()
	if err != nil {
		return a, wrapFrameErr(err)
	}
	a.AckType = AckType(ackType)
	if a.LocalHash, err = r.fixed32(); err != nil {
		return a, wrapFrameErr(err)
	}
	if a.Path, err = r.lenPrefixedString(); err != nil {
		return a, wrapFrameErr(err)
	}
	return a, nil
}

// SignatureEntry is one (index, weak, strong) record inside SIGNATURE_LIST.
type SignatureEntry struct {
	Index  uint32
	Weak   uint32
	Strong [32]byte
}

// SignatureList is the SIGNATURE_LIST payload: the receiver's block
// signatures of its local copy, for the sender to diff against.
type SignatureList struct {
	Path    string
	Entries []SignatureEntry
}

func EncodeSignatureList(s SignatureList) []byte {
	buf := make([]byte, 0, 2+len(s.Path)+4+len(s.Entries)*40)
	buf = appendLenPrefixedString(buf, s.Path)
	buf = appendU32(buf, uint32(len(s.Entries)))
	for _, e := range s.Entries {
		buf = appendU32(buf, e.Index)
		buf = appendU32(buf, e.Weak)
		buf = append(buf, e.Strong[:]...)
	}
	return buf
}

func DecodeSignatureList(payload []byte) (SignatureList, error) {
	r := newReader(payload)
	var s SignatureList
	var err error
	if s.Path, err = r.lenPrefixedString(); err != nil {
		return s, wrapFrameErr(err)
	}
	count, err := r.u32()
	if err != nil {
		return s, wrapFrameErr(err)
	}
	s.Entries = make([]SignatureEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		var e SignatureEntry
		if e.Index, err = r.u32(); err != nil {
			return s, wrapFrameErr(err)
		}
		if e.Weak, err = r.u32(); err != nil {
			return s, wrapFrameErr(err)
		}
		if e.Strong, err = r.fixed32(); err != nil {
			return s, wrapFrameErr(err)
		}
		s.Entries = append(s.Entries, e)
	}
	return s, nil
}

// BlockData is the BLOCK_DATA payload: one fixed-size chunk of the
// reconstructed (or delta) payload, identified by its index.
type BlockData struct {
	Path        string
	ChunkIndex  uint32
	TotalChunks uint32
	Data        []byte
}

// EncodeBlockData follows the §6 field order literally: the path length
// precedes chunk_index/total_chunks/data_len, with the path bytes and data
// bytes both trailing the fixed fields.
func EncodeBlockData(b BlockData) []byte {
	buf := make([]byte, 0, 2+4+4+4+len(b.Path)+len(b.Data))
	buf = appendU16(buf, uint16(len(b.Path)))
	buf = appendU32(buf, b.ChunkIndex)
	buf = appendU32(buf, b.TotalChunks)
	buf = appendU32(buf, uint32(len(b.Data)))
	buf = append(buf, b.Path...)
	buf = append(buf, b.Data...)
	return buf
}

func DecodeBlockData(payload []byte) (BlockData, error) {
	r := newReader(payload)
	var b BlockData
	pathLen, err := r.u16()
	if err != nil {
		return b, wrapFrameErr(err)
	}
	if b.ChunkIndex, err = r.u32(); err != nil {
		return b, wrapFrameErr(err)
	}
	if b.TotalChunks, err = r.u32(); err != nil {
		return b, wrapFrameErr(err)
	}
	dataLen, err := r.u32(); if err != nil {
		return b, wrapFrameErr(err)
	}
	pathBytes, err := r.bytes(int(pathLen))
	if err != nil {
		return b, wrapFrameErr(err)
	}
	b.Path = string(pathBytes)
	if b.Data, err = r.bytes(int(dataLen)); err != nil {
		return b, wrapFrameErr(err)
	}
	return b, nil
}

// BlockAck is the BLOCK_ACK payload: per-chunk receiver acknowledgment
// carrying the count of chunks received so far.
type BlockAck struct {
	Path       string
	ChunkIndex uint32
	Received   uint32
}

func EncodeBlockAck(a BlockAck) []byte {
	buf := make([]byte, 0, 2+4+4+len(a.Path))
	buf = appendU16(buf, uint16(len(a.Path)))
	buf = appendU32(buf, a.ChunkIndex)
	buf = appendU32(buf, a.Received)
	buf = append(buf, a.Path...)
	return buf
}

func DecodeBlockAck(payload []byte) (BlockAck, error) {
	r := newReader(payload)
	var a BlockAck
	pathLen, err := r.u16()
	if err != nil {
		return a, wrapFrameErr(err)
	}
	if a.ChunkIndex, err = r.u32(); err != nil {
		return a, wrapFrameErr(err)
	}
	if a.Received, err = r.u32(); err != nil {
		return a, wrapFrameErr(err)
	}
	pathBytes, err := r.bytes(int(pathLen))
	if err != nil {
		return a, wrapFrameErr(err)
	}
	a.Path = string(pathBytes)
	return a, nil
}

// TransferComplete is the TRANSFER_COMPLETE payload: the receiver's final
// verdict for a transfer_id (path doubles as the transfer key here since a
// TransferContext is unique per (peer, path) at any time).
type TransferComplete struct {
	Success bool
	Path    string
	Reason  string
}

func EncodeTransferComplete(c TransferComplete) []byte {
	var success byte
	if c.Success {
		success = 1
	}
	buf := make([]byte, 0, 1+2+len(c.Path)+2+len(c.Reason))
	buf = append(buf, success)
	buf = appendLenPrefixedString(buf, c.Path)
	buf = appendLenPrefixedString(buf, c.Reason)
	return buf
}

func DecodeTransferComplete(payload []byte) (TransferComplete, error) {
	r := newReader(payload)
	var c TransferComplete
	success, err := r.u8()
	if err != nil {
		return c, wrapFrameErr(err)
	}
	c.Success = success != 0
	if c.Path, err = r.lenPrefixedString(); err != nil {
		return c, wrapFrameErr(err)
	}
	if c.Reason, err = r.lenPrefixedString(); err != nil {
		return c, wrapFrameErr(err)
	}
	return c, nil
}

// DeleteFile is the DELETE_FILE payload.
type DeleteFile struct {
	Path string
}

func EncodeDeleteFile(d DeleteFile) []byte {
	buf := make([]byte, 0, 2+len(d.Path))
	buf = appendLenPrefixedString(buf, d.Path)
	return buf
}

func DecodeDeleteFile(payload []byte) (DeleteFile, error) {
	r := newReader(payload)
	var d DeleteFile
	var err error
	if d.Path, err = r.lenPrefixedString(); err != nil {
		return d, wrapFrameErr(err)
	}
	return d, nil
}

// Ping is the PING payload: a liveness probe carrying the sender's own
// clock so the receiving end can echo it back unchanged in the PONG.
type Ping struct {
	Nonce     uint64
	SentAtUnixNano int64
}

func EncodePing(p Ping) []byte {
	buf := make([]byte, 0, 16)
	buf = appendU64(buf, p.Nonce)
	buf = appendU64(buf, uint64(p.SentAtUnixNano))
	return buf
}

func DecodePing(payload []byte) (Ping, error) {
	r := newReader(payload)
	var p Ping
	var err error
	if p.Nonce, err = r.u64(); err != nil {
		return p, wrapFrameErr(err)
	}
	var sentAt uint64
	if sentAt, err = r.u64(); err != nil {
		return p, wrapFrameErr(err)
	}
	p.SentAtUnixNano = int64(sentAt)
	return p, nil
}

// Pong is the PONG payload: the PING's nonce and original timestamp
// echoed back so the prober can compute round-trip time without
// keeping per-nonce state.
type Pong struct {
	Nonce     uint64
	SentAtUnixNano int64
}

func EncodePong(p Pong) []byte {
	buf := make([]byte, 0, 16)
	buf = appendU64(buf, p.Nonce)
	buf = appendU64(buf, uint64(p.SentAtUnixNano))
	return buf
}

func DecodePong(payload []byte) (Pong, error) {
	r := newReader(payload)
	var p Pong
	var err error
	if p.Nonce, err = r.u64(); err != nil {
		return p, wrapFrameErr(err)
	}
	var sentAt uint64
	if sentAt, err = r.u64(); err != nil {
		return p, wrapFrameErr(err)
	}
	p.SentAtUnixNano = int64(sentAt)
	return p, nil
}
