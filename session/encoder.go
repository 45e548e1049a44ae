package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
)

const recordFormatVersionCurrent = 1

// Encode serializes a record into the versioned binary layout:
//
//	[version u8][signLen u8][sign][userLen u16][userID][hashLen u8][hash]
//	[expiresAt i64][dataLen u32][data][payloadLen u32][payload]
//
// The handle is not encoded; it is the key the blob is stored under.
func Encode(r *Record) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(recordFormatVersionCurrent)

	if len(r.LastUpdatedSign) == 0 || len(r.LastUpdatedSign) > math.MaxUint8 {
		return nil, errors.New("invalid sign length")
	}
	buf.WriteByte(byte(len(r.LastUpdatedSign)))
	buf.WriteString(r.LastUpdatedSign)

	if len(r.UserID) > math.MaxUint16 {
		return nil, errors.New("userID too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(r.UserID))); err != nil {
		return nil, err
	}
	buf.WriteString(r.UserID)

	if len(r.RefreshTokenHash2) > math.MaxUint8 {
		return nil, errors.New("refresh hash too long")
	}
	buf.WriteByte(byte(len(r.RefreshTokenHash2)))
	buf.WriteString(r.RefreshTokenHash2)

	if err := binary.Write(&buf, binary.BigEndian, r.ExpiresAt); err != nil {
		return nil, err
	}

	if err := writeBlob(&buf, r.SessionData); err != nil {
		return nil, err
	}
	if err := writeBlob(&buf, r.JWTPayload); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Decode parses a blob produced by [Encode]. Handle is left empty.
func Decode(data []byte) (*Record, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != recordFormatVersionCurrent {
		return nil, errors.New("invalid record version")
	}

	r := &Record{}

	signLen, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	sign := make([]byte, signLen)
	if _, err := io.ReadFull(reader, sign); err != nil {
		return nil, err
	}
	r.LastUpdatedSign = string(sign)

	var userLen uint16
	if err := binary.Read(reader, binary.BigEndian, &userLen); err != nil {
		return nil, err
	}
	userID := make([]byte, userLen)
	if _, err := io.ReadFull(reader, userID); err != nil {
		return nil, err
	}
	r.UserID = string(userID)

	hashLen, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	hash := make([]byte, hashLen)
	if _, err := io.ReadFull(reader, hash); err != nil {
		return nil, err
	}
	r.RefreshTokenHash2 = string(hash)

	if err := binary.Read(reader, binary.BigEndian, &r.ExpiresAt); err != nil {
		return nil, err
	}

	if r.SessionData, err = readBlob(reader); err != nil {
		return nil, err
	}
	if r.JWTPayload, err = readBlob(reader); err != nil {
		return nil, err
	}

	if reader.Len() != 0 {
		return nil, errors.New("trailing bytes in record")
	}

	return r, nil
}

func writeBlob(buf *bytes.Buffer, b []byte) error {
	if uint64(len(b)) > math.MaxUint32 {
		return errors.New("blob too large")
	}
	if err := binary.Write(buf, binary.BigEndian, uint32(len(b))); err != nil {
		return err
	}
	buf.Write(b)
	return nil
}

func readBlob(reader *bytes.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	if int64(n) > int64(reader.Len()) {
		return nil, io.ErrUnexpectedEOF
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(reader, b); err != nil {
		return nil, err
	}
	return b, nil
}
