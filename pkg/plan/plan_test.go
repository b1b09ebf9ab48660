package plan

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const ringAllgatherXML = `<algo name="ring" proto="Simple" coll="allreduce" nchannels="1" nchunksperloop="2" ngpus="2" outofplace="1">
  <gpu id="0" i_chunks="1" o_chunks="2" s_chunks="0">
    <tb id="0" send="1" recv="-1" chan="0">
      <step s="0" type="s" srcbuf="i" srcoff="0" dstbuf="o" dstoff="1" cnt="1" depid="-1" deps="-1" hasdep="0"/>
    </tb>
    <tb id="1" send="-1" recv="1" chan="0">
      <step s="0" type="r" srcbuf="i" srcoff="0" dstbuf="o" dstoff="1" cnt="1" depid="-1" deps="-1" hasdep="0"/>
    </tb>
  </gpu>
  <gpu id="1" i_chunks="1" o_chunks="2" s_chunks="0">
    <tb id="0" send="0" recv="-1" chan="0">
      <step s="0" type="s" srcbuf="i" srcoff="0" dstbuf="o" dstoff="0" cnt="1" depid="-1" deps="-1" hasdep="0"/>
    </tb>
    <tb id="1" send="-1" recv="0" chan="0">
      <step s="0" type="r" srcbuf="i" srcoff="0" dstbuf="o" dstoff="0" cnt="1" depid="-1" deps="-1" hasdep="0"/>
    </tb>
  </gpu>
</algo>`

func TestLoadParsesRingAllgather(t *testing.T) {
	root, err := Load(strings.NewReader(ringAllgatherXML))
	require.NoError(t, err)
	require.Equal(t, "allreduce", root.Coll)
	require.Equal(t, 2, root.NumGPUs)
	require.Len(t, root.GPUs, 2)
	require.Len(t, root.GPUs[0].TBs, 2)

	tb0 := root.GPUs[0].TBs[0]
	require.Equal(t, 1, tb0.Send)
	require.Equal(t, -1, tb0.Recv)
	require.Len(t, tb0.Steps, 1)

	step := tb0.Steps[0]
	require.Equal(t, "s", step.Type)
	require.Equal(t, 1, step.Cnt)
	require.Equal(t, -1, step.DepID)
}

func TestLoadRejectsMissingAttribute(t *testing.T) {
	bad := `<algo coll="allreduce" nchannels="1" nchunksperloop="2" outofplace="1">
  <gpu id="0" i_chunks="1" o_chunks="1" s_chunks="0"></gpu>
</algo>`
	_, err := Load(strings.NewReader(bad))
	require.Error(t, err)
	require.Contains(t, err.Error(), "ngpus")
}

func TestLoadRejectsNonIntegerAttribute(t *testing.T) {
	bad := `<algo coll="allreduce" ngpus="not-a-number" nchannels="1" nchunksperloop="2" outofplace="1"></algo>`
	_, err := Load(strings.NewReader(bad))
	require.Error(t, err)
}

func TestLoadStepRejectsMissingDep(t *testing.T) {
	bad := `<algo coll="allreduce" ngpus="1" nchannels="1" nchunksperloop="1" outofplace="1">
  <gpu id="0" i_chunks="1" o_chunks="1" s_chunks="0">
    <tb id="0" send="-1" recv="-1" chan="0">
      <step s="0" type="nop" srcbuf="i" srcoff="0" dstbuf="o" dstoff="0" cnt="0" deps="-1" hasdep="0"/>
    </tb>
  </gpu>
</algo>`
	_, err := Load(strings.NewReader(bad))
	require.Error(t, err)
	require.Contains(t, err.Error(), "depid")
}
