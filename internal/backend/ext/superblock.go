// Package ext implements the ext2/3/4 family backend.
package ext

import (
	"encoding/binary"
	"fmt"
)

const (
	magicOffset    = 1024
	superblockSize = 1024
	extMagic       = 0xEF53

	incompatExtents = 0x40
	incompat64Bit   = 0x80

	indexFlag   = 0x1000 // EXT2_INDEX_FL, htree directory
	extentsFlag = 0x80000

	stateValidFs = 0x1 // EXT2_VALID_FS
	stateErrorFs = 0x2 // EXT2_ERROR_FS
)

// superblock holds the subset of ext2_super_block fields the engine
// needs: block geometry, inode layout, and the journal inode number.
type superblock struct {
	inodesCount     uint32
	blocksCount     uint32
	firstDataBlock  uint32
	logBlockSize    uint32
	blocksPerGroup  uint32
	inodesPerGroup  uint32
	firstIno        uint32
	inodeSize       uint16
	featureIncompat uint32
	journalInum     uint32
	hasJournal      bool
	state           uint16
}

// hasErrors reports EXT2_ERROR_FS (s_state bit 1): the kernel or e2fsck
// set this when the filesystem was found inconsistent and not yet
// repaired.
func (sb *superblock) hasErrors() bool { return sb.state&stateErrorFs != 0 }

// isDirty reports that s_state lacks EXT2_VALID_FS: the filesystem was
// mounted read-write and not yet cleanly unmounted.
func (sb *superblock) isDirty() bool { return sb.state&stateValidFs == 0 }

func (sb *superblock) blockSize() int64 { return 1024 << sb.logBlockSize }

func (sb *superblock) groupCount() int64 {
	return (int64(sb.blocksCount) + int64(sb.blocksPerGroup) - 1) / int64(sb.blocksPerGroup)
}

// parseSuperblock decodes a raw ext2 superblock buffer, as read from
// byte offset 1024 of the device.
func parseSuperblock(raw []byte) (*superblock, error) {
	if len(raw) < 264 {
		return nil, fmt.Errorf("ext: superblock buffer too short")
	}
	le := binary.LittleEndian
	magic := le.Uint16(raw[56:58])
	if magic != extMagic {
		return nil, fmt.Errorf("ext: bad magic %#x", magic)
	}
	sb := &superblock{
		inodesCount:    le.Uint32(raw[0:4]),
		blocksCount:    le.Uint32(raw[4:8]),
		firstDataBlock: le.Uint32(raw[20:24]),
		logBlockSize:   le.Uint32(raw[24:28]),
		blocksPerGroup: le.Uint32(raw[32:36]),
		inodesPerGroup: le.Uint32(raw[40:44]),
		state:          le.Uint16(raw[58:60]),
	}
	revLevel := le.Uint32(raw[76:80])
	if revLevel >= 1 {
		sb.firstIno = le.Uint32(raw[84:88])
		sb.inodeSize = le.Uint16(raw[88:90])
		sb.featureIncompat = le.Uint32(raw[96:100])
	} else {
		sb.firstIno = 11
		sb.inodeSize = 128
	}
	if sb.inodeSize == 0 {
		sb.inodeSize = 128
	}
	if sb.featureIncompat&incompat64Bit != 0 {
		return nil, fmt.Errorf("ext: 64-bit block group descriptors unsupported")
	}
	featureCompat := le.Uint32(raw[92:96])
	const compatHasJournal = 0x4
	if featureCompat&compatHasJournal != 0 {
		sb.journalInum = le.Uint32(raw[224:228])
		sb.hasJournal = sb.journalInum != 0
	}
	return sb, nil
}

// groupDesc is the classic 32-byte ext2_group_desc.
type groupDesc struct {
	blockBitmap uint32
	inodeBitmap uint32
	inodeTable  uint32
}

func parseGroupDesc(raw []byte) groupDesc {
	le := binary.LittleEndian
	return groupDesc{
		blockBitmap: le.Uint32(raw[0:4]),
		inodeBitmap: le.Uint32(raw[4:8]),
		inodeTable:  le.Uint32(raw[8:12]),
	}
}

const groupDescSize = 32
