package probe

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1A, '\n'}

// maxTextChunk bounds how much embedded text is read from a single chunk.
// Generation parameter blocks are small; anything larger is not one.
const maxTextChunk = 64 * 1024

// pngTextValue extracts the value of a tEXt or zTXt chunk with the given
// keyword. Image generators store their prompt and settings under the
// "parameters" keyword. Returns an error when the file is not a PNG or the
// keyword is absent.
func pngTextValue(path, keyword string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	sig := make([]byte, len(pngSignature))
	if _, err := io.ReadFull(file, sig); err != nil {
		return "", err
	}
	if !bytes.Equal(sig, pngSignature) {
		return "", fmt.Errorf("not a png file")
	}

	var header [8]byte
	for {
		if _, err := io.ReadFull(file, header[:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return "", fmt.Errorf("keyword %q not found", keyword)
			}
			return "", err
		}
		length := binary.BigEndian.Uint32(header[:4])
		chunkType := string(header[4:8])

		if chunkType == "IEND" {
			return "", fmt.Errorf("keyword %q not found", keyword)
		}
		if (chunkType != "tEXt" && chunkType != "zTXt") || length > maxTextChunk {
			// Skip chunk data plus CRC.
			if _, err := file.Seek(int64(length)+4, io.SeekCurrent); err != nil {
				return "", err
			}
			continue
		}

		data := make([]byte, length)
		if _, err := io.ReadFull(file, data); err != nil {
			return "", err
		}
		// Skip CRC.
		if _, err := file.Seek(4, io.SeekCurrent); err != nil {
			return "", err
		}

		sep := bytes.IndexByte(data, 0)
		if sep < 0 || string(data[:sep]) != keyword {
			continue
		}

		if chunkType == "tEXt" {
			return string(data[sep+1:]), nil
		}

		// zTXt: a compression-method byte follows the keyword separator.
		if len(data) < sep+2 {
			continue
		}
		zr, err := zlib.NewReader(bytes.NewReader(data[sep+2:]))
		if err != nil {
			continue
		}
		text, err := io.ReadAll(io.LimitReader(zr, maxTextChunk))
		zr.Close()
		if err != nil {
			continue
		}
		return string(text), nil
	}
}
