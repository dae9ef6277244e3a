package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/elnosh/gonuts/cashu"
	bolt "go.etcd.io/bbolt"
)

const (
	proofsBucket             = "proofs"
	pendingRedemptionsBucket = "pending_redemptions"
)

type BoltDB struct {
	bolt *bolt.DB
}

func InitBolt(path string) (*BoltDB, error) {
	db, err := bolt.Open(filepath.Join(path, "gateway.db"), 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("error setting bolt db: %v", err)
	}

	boltdb := &BoltDB{bolt: db}
	err = boltdb.initWalletBuckets()
	if err != nil {
		return nil, fmt.Errorf("error setting bolt db: %v", err)
	}

	return boltdb, nil
}

func (db *BoltDB) initWalletBuckets() error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(proofsBucket))
		if err != nil {
			return err
		}
		_, err = tx.CreateBucketIfNotExists([]byte(pendingRedemptionsBucket))
		return err
	})
}

// SaveProofs stores proofs under the bucket for their mint, keyed by secret.
func (db *BoltDB) SaveProofs(mintURL string, proofs cashu.Proofs) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		mintBucket, err := tx.Bucket([]byte(proofsBucket)).CreateBucketIfNotExists([]byte(mintURL))
		if err != nil {
			return err
		}
		for _, proof := range proofs {
			jsonProof, err := json.Marshal(proof)
			if err != nil {
				return fmt.Errorf("invalid proof: %v", err)
			}
			if err := mintBucket.Put([]byte(proof.Secret), jsonProof); err != nil {
				return err
			}
		}
		return nil
	})
}

func (db *BoltDB) GetProofs(mintURL string) cashu.Proofs {
	proofs := cashu.Proofs{}

	db.bolt.View(func(tx *bolt.Tx) error {
		mintBucket := tx.Bucket([]byte(proofsBucket)).Bucket([]byte(mintURL))
		if mintBucket == nil {
			return nil
		}
		return mintBucket.ForEach(func(k, v []byte) error {
			var proof cashu.Proof
			if err := json.Unmarshal(v, &proof); err != nil {
				return err
			}
			proofs = append(proofs, proof)
			return nil
		})
	})

	return proofs
}

func (db *BoltDB) DeleteProof(mintURL string, secret string) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		mintBucket := tx.Bucket([]byte(proofsBucket)).Bucket([]byte(mintURL))
		if mintBucket == nil {
			return fmt.Errorf("no proofs stored for mint %s", mintURL)
		}
		return mintBucket.Delete([]byte(secret))
	})
}

func (db *BoltDB) SavePendingRedemption(id, preimage string, tokens []string) error {
	redemption := PendingRedemption{
		Id:        id,
		Preimage:  preimage,
		Tokens:    tokens,
		CreatedAt: time.Now().Unix(),
	}
	jsonRedemption, err := json.Marshal(redemption)
	if err != nil {
		return fmt.Errorf("invalid pending redemption: %v", err)
	}

	return db.bolt.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(pendingRedemptionsBucket)).Put([]byte(id), jsonRedemption)
	})
}

func (db *BoltDB) GetPendingRedemptions() []PendingRedemption {
	redemptions := []PendingRedemption{}

	db.bolt.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(pendingRedemptionsBucket)).ForEach(func(k, v []byte) error {
			var redemption PendingRedemption
			if err := json.Unmarshal(v, &redemption); err != nil {
				return err
			}
			redemptions = append(redemptions, redemption)
			return nil
		})
	})

	return redemptions
}

func (db *BoltDB) DeletePendingRedemption(id string) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(pendingRedemptionsBucket)).Delete([]byte(id))
	})
}

func (db *BoltDB) Close() error {
	return db.bolt.Close()
}
