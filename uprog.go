package kern

import "errors"

// User programs. Real user code arrives as a binary image and is
// interpreted instruction by instruction, so traps land at genuine
// instruction boundaries with real register state. That is what makes
// the trap pipeline, and preemption of a process that never yields,
// observable rather than cooperative.

var ErrNoImage = errors.New("no such image")

type Op int

const (
	OpNop Op = iota
	OpLi
	OpMv
	OpAdd
	OpAddi
	OpBeq
	OpBne
	OpJmp
	OpLd
	OpSt
	OpEcall
)

// Instr is one decoded user instruction. Branch and jump targets are
// absolute byte addresses; loads and stores address the data segment
// as Rs1+Imm.
type Instr struct {
	Op  Op
	Rd  int
	Rs1 int
	Rs2 int
	Imm int64
}

// Assembler helpers, for building images in tests and boot code.

func Nop() Instr                { return Instr{Op: OpNop} }
func Li(rd int, imm int64) Instr { return Instr{Op: OpLi, Rd: rd, Imm: imm} }
func Mv(rd, rs int) Instr       { return Instr{Op: OpMv, Rd: rd, Rs1: rs} }
func Add(rd, rs1, rs2 int) Instr { return Instr{Op: OpAdd, Rd: rd, Rs1: rs1, Rs2: rs2} }
func Addi(rd, rs int, imm int64) Instr { return Instr{Op: OpAddi, Rd: rd, Rs1: rs, Imm: imm} }
func Beq(rs1, rs2 int, target int64) Instr { return Instr{Op: OpBeq, Rs1: rs1, Rs2: rs2, Imm: target} }
func Bne(rs1, rs2 int, target int64) Instr { return Instr{Op: OpBne, Rs1: rs1, Rs2: rs2, Imm: target} }
func Jmp(target int64) Instr    { return Instr{Op: OpJmp, Imm: target} }
func Ld(rd, rs int, imm int64) Instr { return Instr{Op: OpLd, Rd: rd, Rs1: rs, Imm: imm} }
func St(rs2, rs1 int, imm int64) Instr { return Instr{Op: OpSt, Rs1: rs1, Rs2: rs2, Imm: imm} }
func Ecall() Instr              { return Instr{Op: OpEcall} }

// Image is a loadable program: text plus the size of the data segment
// it runs against. Execution starts at address 0.
type Image struct {
	Name     string
	Text     []Instr
	MemBytes int
}

// Loader is the program-loader collaborator: it populates an address
// space from an image. The kernel consumes it through this one call.
type Loader interface {
	Load(as *AddressSpace, img Image) error
}

// imageLoader is the built-in loader for pre-decoded images.
type imageLoader struct{}

func (imageLoader) Load(as *AddressSpace, img Image) error {
	n := (len(img.Text)*4 + PGSIZE - 1) / PGSIZE
	if err := as.pool.alloc(n); err != nil {
		return err
	}
	as.text = append([]Instr(nil), img.Text...)
	as.npages += n
	return nil
}
