package dram

// ParamSource provides named parameters. Every lookup falls back to def when
// the key is not set.
type ParamSource interface {
	Uint64(key string, def uint64) uint64
	String(key string, def string) string
	Bool(key string, def bool) bool
}

// WithParams reads every controller parameter from src. Parameters that src
// does not hold keep the value already set on the builder.
func (b Builder) WithParams(src ParamSource) Builder {
	b = b.withTimingParams(src)
	b = b.withOrganizationParams(src)
	b = b.withSchedulingParams(src)
	b = b.withRowHammerParams(src)

	return b
}

func (b Builder) withTimingParams(src ParamSource) Builder {
	t := &b.timing
	u := src.Uint64

	t.ProcessInterval = u("process_interval", t.ProcessInterval)
	t.ToDir = u("to_dir_t", t.ToDir)
	t.TRCD = u("tRCD", t.TRCD)
	t.TRR = u("tRR", t.TRR)
	t.TRP = u("tRP", t.TRP)
	t.TRTP = u("tRTP", t.TRTP)
	t.TWTP = u("tWTP", t.TWTP)
	t.TCL = u("tCL", t.TCL)
	t.TBL = u("tBL", t.TBL)
	t.TBBL = u("tBBL", t.TBL)
	t.TBBLW = u("tBBLW", t.TBL)
	t.TRAS = u("tRAS", t.TRAS)
	t.TWRBUB = u("tWRBUB", t.TWRBUB)
	t.TRWBUB = u("tRWBUB", t.TRWBUB)
	t.TRRBUB = u("tRRBUB", t.TRRBUB)
	t.TWTR = u("tWTR", t.TWTR)
	t.TRTW = u("tRTW", t.TRTW)
	t.TRTRS = u("tRTRS", t.TRTRS)
	t.MOpenTO = u("M_OPEN_TO", t.TRAS+t.TRP)
	t.AOpenTOInit = u("tA_OPEN_TO_INIT", t.AOpenTOInit)
	t.AOpenTODelta = u("tA_OPEN_TO_DELTA", t.AOpenTODelta)
	t.TWRBUBSameGroup = u("tWRBUB_same_group", t.TBBL)
	t.TRDBUBSameGroup = u("tRDBUB_same_group", t.TBBL)

	t.ToDirAB = u("mc_to_dir_t_ab", t.ToDir)
	t.TRCDAB = u("tRCD_ab", t.TRCD)
	t.TRASAB = u("tRAS_ab", t.TRAS)
	t.TRPAB = u("tRP_ab", t.TRP)
	t.TCLAB = u("tCL_ab", t.TCL)
	t.TBLAB = u("tBL_ab", t.TBL)

	t.RefreshInterval = u("refresh_interval", t.RefreshInterval)
	t.TRFC = u("tRFC_t", t.TRFC)
	t.TRFM = u("tRFM_t", t.TRFM)

	return b
}

func (b Builder) withOrganizationParams(src ParamSource) Builder {
	m := &b.mapping
	u := src.Uint64

	m.NumRanks = u("num_ranks_per_mc", m.NumRanks)
	m.NumBanks = u("num_banks_per_rank", m.NumBanks)
	m.NumBanksAB = u("num_banks_per_rank_ab", m.NumBanksAB)
	m.NumBankGroups = u("num_bank_groups", m.NumBankGroups)
	m.NumMCs = u("num_mcs", m.NumMCs)
	m.RankInterleaveBit = uint(u("rank_interleave_base_bit",
		uint64(m.RankInterleaveBit)))
	m.BankInterleaveBit = uint(u("bank_interleave_base_bit",
		uint64(m.BankInterleaveBit)))
	m.PageSizeBit = uint(u("page_sz_base_bit", uint64(m.PageSizeBit)))
	m.MCInterleaveBit = uint(u("interleave_base_bit",
		uint64(m.MCInterleaveBit)))
	m.XORInterleaveBit = uint(u("interleave_xor_base_bit",
		uint64(m.XORInterleaveBit)))
	m.NumBanksWithAgileRow = u("num_banks_with_agile_row",
		m.NumBanksWithAgileRow)
	m.AgileRowReciprocal = u("reciprocal_of_agile_row_portion",
		m.AgileRowReciprocal)
	m.NotSharingBanks = src.Bool("not_sharing_banks", m.NotSharingBanks)

	b.numPagesPerBank = u("num_pages_per_bank", b.numPagesPerBank)
	b.numHWThreads = int(u("num_hthreads", uint64(b.numHWThreads)))
	b.bankGroups = src.Bool("use_bank_group", b.bankGroups)
	b.fullDuplex = src.Bool("full_duplex", b.fullDuplex)
	b.numECCBursts = u("num_ecc_bursts", b.numECCBursts)

	b.contRestoreAfterActivate = src.Bool("cont_restore_after_activate",
		b.contRestoreAfterActivate)
	b.contRestoreAfterWrite = src.Bool("cont_restore_after_write",
		b.contRestoreAfterWrite)
	b.contPrechargeAfterActivate = src.Bool("cont_precharge_after_activate",
		b.contPrechargeAfterActivate)
	b.contPrechargeAfterWrite = src.Bool("cont_precharge_after_write",
		b.contPrechargeAfterWrite)

	return b
}

func (b Builder) withSchedulingParams(src ParamSource) Builder {
	u := src.Uint64

	b.policyName = src.String("scheduling_policy", b.policyName)
	b.reqWindowSize = int(u("req_window_sz", uint64(b.reqWindowSize)))
	b.tournamentInterval = u("tournament_interval", b.tournamentInterval)
	b.numHistoryPatterns = u("num_history_patterns", b.numHistoryPatterns)
	b.aOpenWindowSize = u("a_open_win_sz", b.aOpenWindowSize)
	b.aOpenOPCThreshold = u("a_open_opc_th", b.aOpenOPCThreshold)
	b.aOpenPPCThreshold = u("a_open_ppc_th", b.aOpenPPCThreshold)
	b.aOpenFixedTimeout = src.Bool("a_open_fixed_to", b.aOpenFixedTimeout)

	b.parBS = src.Bool("par_bs", b.parBS)
	b.bliss = src.Bool("bliss", b.bliss)
	b.fixedLatency = src.Bool("is_fixed_latency", b.fixedLatency)
	b.fixedBWAndLatency = src.Bool("is_fixed_bw_n_latency",
		b.fixedBWAndLatency)

	b.useAttacker = src.Bool("use_attacker", b.useAttacker)
	b.attack.NumThreads = int(u("num_attacker_threads",
		uint64(b.attack.NumThreads)))
	b.attack.RowsPerThread = int(u("num_attack_rows_per_thread",
		uint64(b.attack.RowsPerThread)))
	b.attack.MaxInFlight = u("attacker_max_req_count", b.attack.MaxInFlight)

	return b
}

func (b Builder) withRowHammerParams(src ParamSource) Builder {
	rh := &b.rh
	u := src.Uint64

	b.schemeName = src.String("rh_prevention_scheme", b.schemeName)

	rh.BlastRadius = u("blast_radius", rh.BlastRadius)
	rh.ThresholdRH = u("th_RH", rh.ThresholdRH)
	rh.PARAProbability = u("p_para", rh.PARAProbability)
	rh.GrapheneTableSize = u("graphene_table_size", rh.GrapheneTableSize)
	rh.HydraGCTThreshold = u("hydra_gct_threshold", rh.HydraGCTThreshold)
	rh.HydraGCTEntries = u("hydra_gct_num_entries", rh.HydraGCTEntries)
	rh.HydraRCCEntries = u("hydra_rcc_num_entries", rh.HydraRCCEntries)
	rh.HydraRCTThreshold = u("hydra_rct_threshold", rh.HydraRCTThreshold)
	rh.RRSHRTThreshold = u("rrs_hrt_threshold", rh.RRSHRTThreshold)
	rh.RRSHRTEntries = u("rrs_hrt_num_entry", rh.RRSHRTEntries)
	rh.RRSDelayRowSwap = u("rrs_delay_row_swap", rh.RRSDelayRowSwap)
	rh.ABACuSPRT = u("abacus_prt", rh.ABACuSPRT)
	rh.ABACuSRCT = u("abacus_rct", rh.ABACuSRCT)
	rh.ABACuSEntries = u("abacus_num_entry", rh.ABACuSEntries)
	rh.RAAIMT = u("RAAIMT", rh.RAAIMT)
	rh.BlockHammerCBFSize = u("cntSize", rh.BlockHammerCBFSize)
	rh.BlockHammerNumHashes = u("totNumHashes", rh.BlockHammerNumHashes)
	rh.BlockHammerQuotaBase = u("quota_base", rh.BlockHammerQuotaBase)
	rh.BlockHammerNth = u("blockhammer_Nth", rh.BlockHammerNth)
	rh.BlockHammerThrottle = src.Bool("attackthrottler", rh.BlockHammerThrottle)

	return b
}
