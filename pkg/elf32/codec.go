package elf32

import "encoding/binary"

// ByteOrderOf returns the binary.ByteOrder implied by an EI_DATA value.
func ByteOrderOf(eiData byte) (binary.ByteOrder, error) {
	switch eiData {
	case ELFDATA2LSB:
		return binary.LittleEndian, nil
	case ELFDATA2MSB:
		return binary.BigEndian, nil
	default:
		return nil, errInvalidEIData
	}
}

var errInvalidEIData = errInvalidEIDataType{}

type errInvalidEIDataType struct{}

func (errInvalidEIDataType) Error() string { return "invalid or unsupported EI_DATA value" }

// DecodeEhdr decodes an Elf32_Ehdr from its on-disk representation. The
// first 16 bytes (e_ident) are endianness-independent; everything after
// is converted using order.
func DecodeEhdr(b []byte, order binary.ByteOrder) (Ehdr, error) {
	var h Ehdr
	if len(b) < EhdrSize {
		return h, errShortRead{"ELF header"}
	}
	copy(h.Ident[:], b[:EI_NIDENT])
	h.Type = order.Uint16(b[16:18])
	h.Machine = order.Uint16(b[18:20])
	h.Version = order.Uint32(b[20:24])
	h.Entry = order.Uint32(b[24:28])
	h.Phoff = order.Uint32(b[28:32])
	h.Shoff = order.Uint32(b[32:36])
	h.Flags = order.Uint32(b[36:40])
	h.Ehsize = order.Uint16(b[40:42])
	h.Phentsize = order.Uint16(b[42:44])
	h.Phnum = order.Uint16(b[44:46])
	h.Shentsize = order.Uint16(b[46:48])
	h.Shnum = order.Uint16(b[48:50])
	h.Shstrndx = order.Uint16(b[50:52])
	return h, nil
}

// EncodeEhdr serializes h using order.
func EncodeEhdr(h Ehdr, order binary.ByteOrder) []byte {
	b := make([]byte, EhdrSize)
	copy(b[:EI_NIDENT], h.Ident[:])
	order.PutUint16(b[16:18], h.Type)
	order.PutUint16(b[18:20], h.Machine)
	order.PutUint32(b[20:24], h.Version)
	order.PutUint32(b[24:28], h.Entry)
	order.PutUint32(b[28:32], h.Phoff)
	order.PutUint32(b[32:36], h.Shoff)
	order.PutUint32(b[36:40], h.Flags)
	order.PutUint16(b[40:42], h.Ehsize)
	order.PutUint16(b[42:44], h.Phentsize)
	order.PutUint16(b[44:46], h.Phnum)
	order.PutUint16(b[46:48], h.Shentsize)
	order.PutUint16(b[48:50], h.Shnum)
	order.PutUint16(b[50:52], h.Shstrndx)
	return b
}

// DecodeShdr decodes a single Elf32_Shdr.
func DecodeShdr(b []byte, order binary.ByteOrder) (Shdr, error) {
	var s Shdr
	if len(b) < ShdrSize {
		return s, errShortRead{"section header"}
	}
	s.Name = order.Uint32(b[0:4])
	s.Type = order.Uint32(b[4:8])
	s.Flags = order.Uint32(b[8:12])
	s.Addr = order.Uint32(b[12:16])
	s.Offset = order.Uint32(b[16:20])
	s.Size = order.Uint32(b[20:24])
	s.Link = order.Uint32(b[24:28])
	s.Info = order.Uint32(b[28:32])
	s.AddrAlign = order.Uint32(b[32:36])
	s.EntSize = order.Uint32(b[36:40])
	return s, nil
}

// EncodeShdr serializes a single Elf32_Shdr.
func EncodeShdr(s Shdr, order binary.ByteOrder) []byte {
	b := make([]byte, ShdrSize)
	order.PutUint32(b[0:4], s.Name)
	order.PutUint32(b[4:8], s.Type)
	order.PutUint32(b[8:12], s.Flags)
	order.PutUint32(b[12:16], s.Addr)
	order.PutUint32(b[16:20], s.Offset)
	order.PutUint32(b[20:24], s.Size)
	order.PutUint32(b[24:28], s.Link)
	order.PutUint32(b[28:32], s.Info)
	order.PutUint32(b[32:36], s.AddrAlign)
	order.PutUint32(b[36:40], s.EntSize)
	return b
}

// DecodePhdr decodes a single Elf32_Phdr.
func DecodePhdr(b []byte, order binary.ByteOrder) (Phdr, error) {
	var p Phdr
	if len(b) < PhdrSize {
		return p, errShortRead{"program header"}
	}
	p.Type = order.Uint32(b[0:4])
	p.Offset = order.Uint32(b[4:8])
	p.Vaddr = order.Uint32(b[8:12])
	p.Paddr = order.Uint32(b[12:16])
	p.Filesz = order.Uint32(b[16:20])
	p.Memsz = order.Uint32(b[20:24])
	p.Flags = order.Uint32(b[24:28])
	p.Align = order.Uint32(b[28:32])
	return p, nil
}

// EncodePhdr serializes a single Elf32_Phdr.
func EncodePhdr(p Phdr, order binary.ByteOrder) []byte {
	b := make([]byte, PhdrSize)
	order.PutUint32(b[0:4], p.Type)
	order.PutUint32(b[4:8], p.Offset)
	order.PutUint32(b[8:12], p.Vaddr)
	order.PutUint32(b[12:16], p.Paddr)
	order.PutUint32(b[16:20], p.Filesz)
	order.PutUint32(b[20:24], p.Memsz)
	order.PutUint32(b[24:28], p.Flags)
	order.PutUint32(b[28:32], p.Align)
	return b
}

// DecodeSym decodes a single Elf32_Sym.
func DecodeSym(b []byte, order binary.ByteOrder) (Sym, error) {
	var s Sym
	if len(b) < SymSize {
		return s, errShortRead{"symbol table entry"}
	}
	s.Name = order.Uint32(b[0:4])
	s.Value = order.Uint32(b[4:8])
	s.Size = order.Uint32(b[8:12])
	s.Info = b[12]
	s.Other = b[13]
	s.Shndx = order.Uint16(b[14:16])
	return s, nil
}

// EncodeSym serializes a single Elf32_Sym.
func EncodeSym(s Sym, order binary.ByteOrder) []byte {
	b := make([]byte, SymSize)
	order.PutUint32(b[0:4], s.Name)
	order.PutUint32(b[4:8], s.Value)
	order.PutUint32(b[8:12], s.Size)
	b[12] = s.Info
	b[13] = s.Other
	order.PutUint16(b[14:16], s.Shndx)
	return b
}

// DecodeRela decodes a single Elf32_Rela.
func DecodeRela(b []byte, order binary.ByteOrder) (Rela, error) {
	var r Rela
	if len(b) < RelaSize {
		return r, errShortRead{"relocation entry"}
	}
	r.Offset = order.Uint32(b[0:4])
	r.Info = order.Uint32(b[4:8])
	r.Addend = int32(order.Uint32(b[8:12]))
	return r, nil
}

type errShortRead struct{ what string }

func (e errShortRead) Error() string { return e.what + ": short read" }
